package web

import (
	"errors"
	"fmt"

	"github.com/go-faster/jx"

	"dsplay/acquire"
	"dsplay/input"
	"dsplay/layout"
	"dsplay/store"
)

// The page and the server exchange JSON messages over a websocket:
//
//	{"event": "progress", "data": {...}}
//
// Page -> server events:
//
//	hello   {rom}                            page loaded, rom is the ?rom= parameter
//	ready   {}                               emulator runtime initialized
//	loaded  {}                               emulator started the ROM
//	layout  {width, height, buttons, dpad,   viewport size and control surfaces
//	         cluster, passthrough}
//	touch   {points: [{id, x, y}]}           active touch points
//	key     {code, down}                     keyboard event
//
// Server -> page events:
//
//	session   {id, persistent}
//	progress  {received, total, label, detail, percent, transferred, speed, eta, fraction}
//	status    {text, fatal}
//	select-file {reason}
//	load      {url, name, gameId, saveKey}
//	screens   {scale, top, bottom}
//	input     {buttons, touched, x, y, preventDefault}
//	save      {key, present, size, text}
//	done      {loaded}                        post-load actions, loaded is false
//	                                          when the emulator never confirmed

// A message is an event decoded from the page.
type message struct {
	Event string
	Data  jx.Raw
}

func decodeMessage(buf []byte) (message, error) {
	var msg message
	err := jx.DecodeBytes(buf).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "event":
			msg.Event, err = d.Str()
		case "data":
			msg.Data, err = d.Raw()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return msg, err
	}
	if msg.Event == "" {
		return msg, errors.New("message without event")
	}
	return msg, nil
}

// data returns a decoder of the message data, which may be absent.
func (m message) data() *jx.Decoder {
	if len(m.Data) == 0 {
		return jx.DecodeStr("{}")
	}
	return jx.DecodeBytes(m.Data)
}

func decodeHello(m message) (rom string, err error) {
	err = m.data().Obj(func(d *jx.Decoder, key string) error {
		if key == "rom" && d.Next() == jx.String {
			var err error
			rom, err = d.Str()
			return err
		}
		return d.Skip()
	})
	return rom, err
}

type keyEvent struct {
	Code string
	Down bool
}

func decodeKey(m message) (keyEvent, error) {
	var ev keyEvent
	err := m.data().Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			ev.Code, err = d.Str()
		case "down":
			ev.Down, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return ev, err
}

func decodeTouch(m message) ([]input.Point, error) {
	var pts []input.Point
	err := m.data().Obj(func(d *jx.Decoder, key string) error {
		if key != "points" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var pt input.Point
			err := d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "id":
					pt.ID, err = d.Int()
				case "x":
					pt.X, err = d.Float64()
				case "y":
					pt.Y, err = d.Float64()
				default:
					err = d.Skip()
				}
				return err
			})
			pts = append(pts, pt)
			return err
		})
	})
	return pts, err
}

// pageLayout is the geometry reported by the page.
type pageLayout struct {
	Width, Height float64
	Zones         input.Layout
}

func decodeLayout(m message) (pageLayout, error) {
	var pl pageLayout
	err := m.data().Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "width":
			pl.Width, err = d.Float64()
		case "height":
			pl.Height, err = d.Float64()
		case "buttons":
			err = d.Arr(func(d *jx.Decoder) error {
				var rb input.RectButton
				err := d.Obj(func(d *jx.Decoder, key string) error {
					if key == "button" {
						name, err := d.Str()
						if err != nil {
							return err
						}
						return rb.Button.UnmarshalText([]byte(name))
					}
					return decodeRectField(d, key, &rb.Bounds)
				})
				pl.Zones.Buttons = append(pl.Zones.Buttons, rb)
				return err
			})
		case "dpad":
			if d.Next() == jx.Null {
				return d.Null()
			}
			dp := &input.Dpad{}
			err = d.Obj(func(d *jx.Decoder, key string) error {
				return decodeRectField(d, key, &dp.Bounds)
			})
			pl.Zones.Dpad = dp
		case "cluster":
			if d.Next() == jx.Null {
				return d.Null()
			}
			cl := &input.Cluster{}
			err = d.Obj(func(d *jx.Decoder, key string) error {
				if key != "buttons" {
					return decodeRectField(d, key, &cl.Bounds)
				}
				return d.Arr(func(d *jx.Decoder) error {
					var fb input.FaceButton
					err := d.Obj(func(d *jx.Decoder, key string) error {
						var err error
						switch key {
						case "button":
							var name string
							if name, err = d.Str(); err == nil {
								err = fb.Button.UnmarshalText([]byte(name))
							}
						case "x":
							fb.X, err = d.Float64()
						case "y":
							fb.Y, err = d.Float64()
						default:
							err = d.Skip()
						}
						return err
					})
					cl.Buttons = append(cl.Buttons, fb)
					return err
				})
			})
			pl.Zones.Cluster = cl
		case "passthrough":
			err = d.Arr(func(d *jx.Decoder) error {
				r, err := decodeRect(d)
				pl.Zones.PassThrough = append(pl.Zones.PassThrough, r)
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	return pl, err
}

func decodeRect(d *jx.Decoder) (input.Rect, error) {
	var r input.Rect
	err := d.Obj(func(d *jx.Decoder, key string) error {
		return decodeRectField(d, key, &r)
	})
	return r, err
}

func decodeRectField(d *jx.Decoder, key string, r *input.Rect) error {
	var err error
	switch key {
	case "x":
		r.X, err = d.Float64()
	case "y":
		r.Y, err = d.Float64()
	case "w":
		r.W, err = d.Float64()
	case "h":
		r.H, err = d.Float64()
	default:
		err = d.Skip()
	}
	return err
}

// event encodes a server -> page message. data writes the fields of the
// data object, it can be nil.
func event(name string, data func(e *jx.Encoder)) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("event")
	e.Str(name)
	e.FieldStart("data")
	e.ObjStart()
	if data != nil {
		data(&e)
	}
	e.ObjEnd()
	e.ObjEnd()
	return e.Bytes()
}

func sessionEvent(id string, persistent bool) []byte {
	return event("session", func(e *jx.Encoder) {
		e.FieldStart("id")
		e.Str(id)
		e.FieldStart("persistent")
		e.Bool(persistent)
	})
}

func progressEvent(p acquire.Progress) []byte {
	return event("progress", func(e *jx.Encoder) {
		e.FieldStart("received")
		e.Int64(p.Received)
		e.FieldStart("total")
		e.Int64(p.Total)
		e.FieldStart("fraction")
		e.Float64(p.Fraction())
		e.FieldStart("label")
		e.Str(p.Label)
		e.FieldStart("detail")
		e.Str(p.Detail)
		e.FieldStart("percent")
		e.Str(p.Percent())
		e.FieldStart("transferred")
		e.Str(p.Transferred())
		e.FieldStart("speed")
		e.Str(acquire.FormatSpeed(p.Rate))
		e.FieldStart("eta")
		e.Str(acquire.FormatETA(p.ETA()))
	})
}

func statusEvent(text string, fatal bool) []byte {
	return event("status", func(e *jx.Encoder) {
		e.FieldStart("text")
		e.Str(text)
		e.FieldStart("fatal")
		e.Bool(fatal)
	})
}

func selectFileEvent(reason string) []byte {
	return event("select-file", func(e *jx.Encoder) {
		e.FieldStart("reason")
		e.Str(reason)
	})
}

// game describes the loaded ROM.
type game struct {
	URL     string // transient location of the payload
	Name    string
	ID      string
	SaveKey string
}

func loadEvent(g game) []byte {
	return event("load", func(e *jx.Encoder) {
		e.FieldStart("url")
		e.Str(g.URL)
		e.FieldStart("name")
		e.Str(g.Name)
		e.FieldStart("gameId")
		e.Str(g.ID)
		e.FieldStart("saveKey")
		e.Str(g.SaveKey)
	})
}

func screensEvent(p layout.Placement) []byte {
	return event("screens", func(e *jx.Encoder) {
		e.FieldStart("scale")
		e.Float64(p.Scale)
		e.FieldStart("top")
		encodeRect(e, p.Top)
		e.FieldStart("bottom")
		encodeRect(e, p.Bottom)
	})
}

func encodeRect(e *jx.Encoder, r input.Rect) {
	e.ObjStart()
	e.FieldStart("x")
	e.Float64(r.X)
	e.FieldStart("y")
	e.Float64(r.Y)
	e.FieldStart("w")
	e.Float64(r.W)
	e.FieldStart("h")
	e.Float64(r.H)
	e.ObjEnd()
}

func inputEvent(f input.Frame) []byte {
	return event("input", func(e *jx.Encoder) {
		e.FieldStart("buttons")
		e.ArrStart()
		for _, down := range f.State.Buttons {
			e.Bool(down)
		}
		e.ArrEnd()
		e.FieldStart("touched")
		e.Bool(f.State.Touched)
		e.FieldStart("x")
		e.Int(f.State.X)
		e.FieldStart("y")
		e.Int(f.State.Y)
		e.FieldStart("preventDefault")
		e.Bool(f.PreventDefault)
	})
}

func saveEvent(st store.SaveStatus) []byte {
	return event("save", func(e *jx.Encoder) {
		encodeSaveStatus(e, st)
	})
}

func encodeSaveStatus(e *jx.Encoder, st store.SaveStatus) {
	e.FieldStart("key")
	e.Str(st.Key)
	e.FieldStart("present")
	e.Bool(st.Present)
	e.FieldStart("size")
	e.Int(st.Size)
	e.FieldStart("text")
	e.Str(st.String())
}

func doneEvent(loaded bool) []byte {
	return event("done", func(e *jx.Encoder) {
		e.FieldStart("loaded")
		e.Bool(loaded)
	})
}

// errorText returns the status line text for an acquisition failure.
func errorText(err error) string {
	switch {
	case errors.Is(err, acquire.ErrTimeout):
		return fmt.Sprintf("Timed out: %v", err)
	case errors.Is(err, acquire.ErrExhausted):
		return fmt.Sprintf("No ROM could be loaded: %v", err)
	}
	return fmt.Sprintf("Error: %v", err)
}
