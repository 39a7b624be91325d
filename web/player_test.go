package web

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"dsplay/store"
)

const testScript = `var a=isIOS&&!isWebApp;if(isIOS&&!isWebApp){nosave()}`

func TestPlayerScript(t *testing.T) {
	tr := &memTransport{files: map[string][]byte{"/desmond.min.js": []byte(testScript)}}
	st := store.New(afero.NewMemMapFs(), "/store", true)

	p := newPlayer("http://cdn/desmond.min.js", true, newTestFetcher(tr), st.Bucket("player"))
	for range 2 {
		got, err := p.Script(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if want := `var a=false;if(false){nosave()}`; string(got) != want {
			t.Errorf("Script() = %q, want %q", got, want)
		}
	}
	if n := tr.requests.Load(); n != 1 {
		t.Errorf("got %d requests, want 1", n)
	}

	// The unpatched script is stored, a new player doesn't download it.
	stored, err := st.Bucket("player").Get("http://cdn/desmond.min.js")
	if err != nil {
		t.Fatal(err)
	}
	if string(stored) != testScript {
		t.Errorf("stored script = %q", stored)
	}

	p = newPlayer("http://cdn/desmond.min.js", false, newTestFetcher(tr), st.Bucket("player"))
	got, err := p.Script(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != testScript {
		t.Errorf("Script() = %q, want unpatched script", got)
	}
	if n := tr.requests.Load(); n != 1 {
		t.Errorf("got %d requests, want 1", n)
	}
}

func TestPlayerScriptUnavailable(t *testing.T) {
	tr := &memTransport{}
	st := store.New(afero.NewMemMapFs(), "/store", true)

	p := newPlayer("http://cdn/desmond.min.js", true, newTestFetcher(tr), st.Bucket("player"))
	if _, err := p.Script(context.Background()); err == nil {
		t.Fatal("Script() should fail")
	}

	// Failures aren't memoized.
	tr.files = map[string][]byte{"/desmond.min.js": []byte("play()")}
	got, err := p.Script(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "play()" {
		t.Errorf("Script() = %q", got)
	}
}
