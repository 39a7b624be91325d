package nds

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"dsplay/log"
)

func testROM(title, code string) []byte {
	rom := make([]byte, 1024)
	copy(rom[0x00:], title)
	copy(rom[0x0C:], code)
	copy(rom[0x10:], "01")
	rom[0x12] = 0x00
	rom[0x14] = 0x07
	crc := crc16(rom[:0x15E])
	rom[0x15E] = byte(crc)
	rom[0x15F] = byte(crc >> 8)
	return rom
}

func TestParseHeader(t *testing.T) {
	hdr, err := ParseHeader(testROM("MARIO KART", "AMCE"))
	if err != nil {
		t.Fatal(err)
	}

	if hdr.Title() != "MARIO KART" {
		t.Errorf("Title() = %q", hdr.Title())
	}
	if hdr.GameCode() != "AMCE" {
		t.Errorf("GameCode() = %q", hdr.GameCode())
	}
	if hdr.MakerCode() != "01" {
		t.Errorf("MakerCode() = %q", hdr.MakerCode())
	}
	if hdr.UnitCode() != "NDS" {
		t.Errorf("UnitCode() = %q", hdr.UnitCode())
	}
	if hdr.Capacity() != 16*1024*1024 {
		t.Errorf("Capacity() = %d", hdr.Capacity())
	}
	if !hdr.Valid() {
		t.Errorf("checksum should be valid")
	}
}

func TestParseHeaderTooSmall(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 100)); err == nil {
		t.Fatal("want error for truncated header")
	}
}

func TestGameID(t *testing.T) {
	tests := []struct {
		name     string
		rom      []byte
		fallback string
		want     string
	}{
		{
			name:     "commercial",
			rom:      testROM("MARIO KART", "AMCE"),
			fallback: "game.nds",
			want:     "MARIO KART  AMCE",
		},
		{
			name:     "homebrew",
			rom:      testROM("HOMEBREW", "####"),
			fallback: "demo.nds",
			want:     "demo.nds",
		},
		{
			name:     "short",
			rom:      []byte("AB"),
			fallback: "x.nds",
			want:     "AB              ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GameID(tt.rom, tt.fallback); got != tt.want {
				t.Errorf("GameID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSaveKey(t *testing.T) {
	if got := SaveKey("MARIO KART  AMCE"); got != "sav-MARIO KART  AMCE" {
		t.Errorf("SaveKey() = %q", got)
	}
}

func TestParseHeaderLog(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.EnableDebugModules(log.ModBoot.Mask())
	defer log.DisableDebugModules(log.ModBoot.Mask())

	hdr, err := ParseHeader(testROM("MARIO KART", "AMCE"))
	if err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"rom header",
		"code=AMCE",
		"capacity=16777216",
		fmt.Sprintf("crc=%08x", hdr.Checksum()),
		"valid=true",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q lacks %q", out, want)
		}
	}
}
