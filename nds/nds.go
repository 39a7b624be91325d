// package nds decodes the cartridge header of Nintendo DS roms, the part of
// it we need to identify a game and name its battery save.
package nds

import (
	"fmt"
	"io"
	"os"
	"strings"

	"dsplay/log"
)

// HeaderSize is the size of the portion of the cartridge header we decode.
const HeaderSize = 0x160

type Header struct {
	raw [HeaderSize]byte
}

// ParseHeader decodes the header at the start of rom.
func ParseHeader(rom []byte) (*Header, error) {
	if len(rom) < HeaderSize {
		return nil, fmt.Errorf("too small, needs %d bytes", HeaderSize)
	}
	hdr := new(Header)
	copy(hdr.raw[:], rom[:HeaderSize])

	log.ModBoot.DebugZ("rom header").
		String("title", hdr.Title()).
		String("code", hdr.GameCode()).
		Uint("capacity", uint64(hdr.Capacity())).
		Hex32("crc", uint32(hdr.Checksum())).
		Bool("valid", hdr.Valid()).
		End()
	return hdr, nil
}

// Open reads a rom header from file.
func Open(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return ParseHeader(buf)
}

// Title is the upper case ASCII game title.
func (hdr *Header) Title() string {
	return strings.TrimRight(string(hdr.raw[0x00:0x0C]), "\x00 ")
}

// GameCode is the 4 characters game code (e.g. "ADME").
func (hdr *Header) GameCode() string {
	return string(hdr.raw[0x0C:0x10])
}

// MakerCode is the 2 characters publisher code.
func (hdr *Header) MakerCode() string {
	return string(hdr.raw[0x10:0x12])
}

// UnitCode tells which consoles the game targets.
func (hdr *Header) UnitCode() string {
	switch hdr.raw[0x12] {
	case 0x00:
		return "NDS"
	case 0x02:
		return "NDS+DSi"
	case 0x03:
		return "DSi"
	}
	return fmt.Sprintf("unknown (%02x)", hdr.raw[0x12])
}

// Capacity is the cartridge chip size in bytes.
func (hdr *Header) Capacity() int {
	shift := hdr.raw[0x14]
	if shift > 15 {
		return 0
	}
	return (128 * 1024) << shift
}

// Checksum returns the header checksum stored in the rom.
func (hdr *Header) Checksum() uint16 {
	return uint16(hdr.raw[0x15E]) | uint16(hdr.raw[0x15F])<<8
}

// Valid reports whether the stored header checksum matches its content.
func (hdr *Header) Valid() bool {
	return crc16(hdr.raw[:0x15E]) == hdr.Checksum()
}

func (hdr *Header) PrintInfos(w io.Writer) {
	fmt.Fprintf(w, "title:     %s\n", hdr.Title())
	fmt.Fprintf(w, "game code: %s\n", hdr.GameCode())
	fmt.Fprintf(w, "maker:     %s\n", hdr.MakerCode())
	fmt.Fprintf(w, "unit:      %s\n", hdr.UnitCode())
	fmt.Fprintf(w, "capacity:  %d KB\n", hdr.Capacity()/1024)
	fmt.Fprintf(w, "checksum:  %04X (valid: %t)\n", hdr.Checksum(), hdr.Valid())
}

// crc16 is the CRC-16/MODBUS variant used by the header checksum.
func crc16(p []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range p {
		crc ^= uint16(b)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// GameID identifies a game from the first 16 header bytes (title and game
// code), NUL bytes being replaced by spaces. The emulator names saves after
// it. Homebrew roms mark their header with a '#' at offset 12, these are
// identified by fallbackName instead.
func GameID(rom []byte, fallbackName string) string {
	var sb strings.Builder
	for i := range 16 {
		var b byte
		if i < len(rom) {
			b = rom[i]
		}
		if b == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteByte(b)
		}
	}
	id := sb.String()
	if id[12] == '#' {
		return fallbackName
	}
	return id
}

// SaveKey is the storage key of the battery save of a game.
func SaveKey(gameID string) string {
	return "sav-" + gameID
}
