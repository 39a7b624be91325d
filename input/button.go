package input

import (
	"fmt"
	"strings"
)

// A Button identifies one of the 12 DS buttons. Values follow the order of
// the emulator's input array.
type Button uint8

//go:generate go tool stringer -type=Button -linecomment

const (
	Right  Button = iota // right
	Left                 // left
	Down                 // down
	Up                   // up
	Select               // select
	Start                // start
	B                    // b
	A                    // a
	Y                    // y
	X                    // x
	L                    // l
	R                    // r

	NumButtons
)

// ButtonByName returns the button called name (case insensitive).
func ButtonByName(name string) (Button, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for b := range NumButtons {
		if b.String() == name {
			return b, true
		}
	}
	return 0, false
}

func (b Button) MarshalText() ([]byte, error) {
	if b >= NumButtons {
		return nil, fmt.Errorf("invalid button %d", b)
	}
	return []byte(b.String()), nil
}

func (b *Button) UnmarshalText(text []byte) error {
	btn, ok := ButtonByName(string(text))
	if !ok {
		return fmt.Errorf("unrecognized button %q", text)
	}
	*b = btn
	return nil
}
