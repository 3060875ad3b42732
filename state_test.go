package preload

import (
	"testing"
)

func TestItemState(t *testing.T) {
	for _, tc := range []struct {
		state    ItemState
		str      string
		failed   bool
		rejected bool
	}{
		{state: ItemState{}, str: ``},
		{state: ItemState{Waiting: true}, str: `waiting`},
		{
			state: ItemState{Loaded: true, Processed: true, Resolved: true, Ready: true},
			str:   `loaded|processed|resolved|ready`,
		},
		{
			state:    ItemState{Error: true, Timeout: true, Processed: true, Resolved: true},
			str:      `error|timeout|processed|resolved`,
			failed:   true,
			rejected: true,
		},
		{
			state:  ItemState{Pending: true, Abort: true},
			str:    `pending|abort`,
			failed: true,
		},
	} {
		if got := tc.state.String(); got != tc.str {
			t.Errorf(`expected %q, got %q`, tc.str, got)
		}
		if got := tc.state.Failed(); got != tc.failed {
			t.Errorf(`%s: expected failed %v`, tc.str, tc.failed)
		}
		if got := tc.state.Rejected(); got != tc.rejected {
			t.Errorf(`%s: expected rejected %v`, tc.str, tc.rejected)
		}
	}
}

func TestDocument(t *testing.T) {
	var d Document
	d.Append(nil)
	d.Append(newNode(nil, `script`, map[string]string{`src`: `a.js`}))
	d.Append(newNode(nil, `style`, nil))
	d.Append(newNode(nil, `script`, nil))

	if d.Len() != 3 {
		t.Fatalf(`expected 3 nodes, got %d`, d.Len())
	}

	scripts := d.Find(`script`)
	if len(scripts) != 2 || scripts[0].Attributes[`src`] != `a.js` {
		t.Fatalf(`unexpected scripts: %+v`, scripts)
	}

	scripts[0].Attributes[`src`] = `changed`
	if d.Find(`script`)[0].Attributes[`src`] != `a.js` {
		t.Error(`nodes should be copies`)
	}
}

func TestBytesPerSecond(t *testing.T) {
	if v := bytesPerSecond(10, 0); v != 0 {
		t.Errorf(`expected 0, got %v`, v)
	}
	if v := bytesPerSecond(10, 2e9); v != 5 {
		t.Errorf(`expected 5, got %v`, v)
	}
}
