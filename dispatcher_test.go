package preload

import (
	"strings"
	"testing"
)

func TestDispatcher_Order(t *testing.T) {
	d := NewDispatcher()
	var order []string

	d.setBuiltin(`test`, func(e *Event) { order = append(order, `builtin`) })
	d.On(`test`, func(e *Event) { order = append(order, `post1`) })
	d.OnPre(`test`, func(e *Event) { order = append(order, `pre1`) })
	d.On(`test`, func(e *Event) { order = append(order, `post2`) })
	d.On(PreMarker+`test`, func(e *Event) { order = append(order, `pre2`) })

	d.Fire(`test`, nil, nil)

	if got, want := strings.Join(order, `,`), `pre1,pre2,builtin,post1,post2`; got != want {
		t.Errorf(`expected %q, got %q`, want, got)
	}
}

func TestDispatcher_PreventDefault(t *testing.T) {
	t.Run(`pre`, func(t *testing.T) {
		d := NewDispatcher()
		var builtin, post bool
		d.setBuiltin(`test`, func(e *Event) { builtin = true })
		d.OnPre(`test`, func(e *Event) { e.PreventDefault() })
		d.On(`test`, func(e *Event) { post = true })
		e := d.Fire(`test`, nil, nil)
		if builtin {
			t.Error(`builtin should have been skipped`)
		}
		if !post {
			t.Error(`post listener should still run`)
		}
		if !e.DefaultPrevented() {
			t.Error(`expected default prevented`)
		}
	})

	t.Run(`post has no effect`, func(t *testing.T) {
		d := NewDispatcher()
		var builtin bool
		d.setBuiltin(`test`, func(e *Event) { builtin = true })
		d.On(`test`, func(e *Event) { e.PreventDefault() })
		d.Fire(`test`, nil, nil)
		if !builtin {
			t.Error(`builtin should have run`)
		}
	})
}

func TestDispatcher_StopPropagation(t *testing.T) {
	parent := NewDispatcher()
	child := NewDispatcher()
	child.parent = parent

	var calls []string
	child.On(`test`, func(e *Event) {
		calls = append(calls, `child1`)
		e.StopPropagation()
	})
	child.On(`test`, func(e *Event) { calls = append(calls, `child2`) })
	parent.On(`test`, func(e *Event) { calls = append(calls, `parent`) })

	e := child.Fire(`test`, nil, nil)

	if got, want := strings.Join(calls, `,`), `child1,child2`; got != want {
		t.Errorf(`expected %q, got %q`, want, got)
	}
	if !e.PropagationStopped() || e.ImmediatePropagationStopped() {
		t.Error(`unexpected flags`)
	}
}

func TestDispatcher_StopImmediatePropagation(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(d *Dispatcher, calls *[]string)
		want  string
	}{
		{
			name: `in pre`,
			setup: func(d *Dispatcher, calls *[]string) {
				d.OnPre(`test`, func(e *Event) {
					*calls = append(*calls, `pre1`)
					e.StopImmediatePropagation()
				})
				d.OnPre(`test`, func(e *Event) { *calls = append(*calls, `pre2`) })
			},
			want: `pre1`,
		},
		{
			name: `in post`,
			setup: func(d *Dispatcher, calls *[]string) {
				d.On(`test`, func(e *Event) {
					*calls = append(*calls, `post1`)
					e.StopImmediatePropagation()
				})
				d.On(`test`, func(e *Event) { *calls = append(*calls, `post2`) })
			},
			want: `builtin,post1`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			parent := NewDispatcher()
			d := NewDispatcher()
			d.parent = parent
			var calls []string
			d.setBuiltin(`test`, func(e *Event) { calls = append(calls, `builtin`) })
			parent.On(`test`, func(e *Event) { calls = append(calls, `parent`) })
			tc.setup(d, &calls)

			e := d.Fire(`test`, nil, nil)

			if got := strings.Join(calls, `,`); got != tc.want {
				t.Errorf(`expected %q, got %q`, tc.want, got)
			}
			if !e.PropagationStopped() {
				t.Error(`immediate stop should imply propagation stopped`)
			}
		})
	}
}

func TestDispatcher_BubblesSameInstance(t *testing.T) {
	root := NewDispatcher()
	parent := NewDispatcher()
	parent.parent = root
	child := NewDispatcher()
	child.parent = parent

	var seen []*Event
	child.OnPre(`test`, func(e *Event) {
		seen = append(seen, e)
		e.PreventDefault()
	})
	parent.On(`test`, func(e *Event) { seen = append(seen, e) })
	var rootBuiltin bool
	root.setBuiltin(`test`, func(e *Event) { rootBuiltin = true })
	root.On(`test`, func(e *Event) { seen = append(seen, e) })

	target := struct{}{}
	child.Fire(`test`, target, 42)

	if len(seen) != 3 {
		t.Fatalf(`expected 3 calls, got %d`, len(seen))
	}
	for _, e := range seen[1:] {
		if e != seen[0] {
			t.Error(`expected the same event instance`)
		}
	}
	if seen[0].Target != target || seen[0].Data != 42 {
		t.Errorf(`unexpected payload: %+v`, seen[0])
	}
	if rootBuiltin {
		t.Error(`default prevented by the child should skip ancestor builtins`)
	}
}

func TestDispatcher_Off(t *testing.T) {
	d := NewDispatcher()
	var calls int
	id := d.On(`test`, func(e *Event) { calls++ })
	preID := d.On(`pre:test`, func(e *Event) { calls++ })

	if d.ListenerCount(`test`) != 2 {
		t.Fatalf(`expected 2 listeners, got %d`, d.ListenerCount(`test`))
	}
	if !d.Off(`test`, id) || !d.Off(`pre:test`, preID) {
		t.Fatal(`expected removal`)
	}
	if d.Off(`test`, id) {
		t.Error(`expected second removal to fail`)
	}
	if d.Off(`unknown`, id) {
		t.Error(`expected removal of unknown name to fail`)
	}

	d.Fire(`test`, nil, nil)
	if calls != 0 {
		t.Errorf(`expected no calls, got %d`, calls)
	}
}

func TestDispatcher_NilListener(t *testing.T) {
	d := NewDispatcher()
	if id := d.On(`test`, nil); id != 0 {
		t.Errorf(`expected 0, got %d`, id)
	}
}

func TestDispatcher_ListenerPanic(t *testing.T) {
	var logs syncBuffer
	d := NewDispatcher()
	d.logger = newTestLogger(&logs)
	var after bool
	d.On(`test`, func(e *Event) { panic(`boom`) })
	d.On(`test`, func(e *Event) { after = true })

	d.Fire(`test`, nil, nil)

	if !after {
		t.Error(`dispatch should continue after a panicking listener`)
	}
	if !strings.Contains(logs.String(), `listener panicked`) {
		t.Errorf(`expected panic to be logged, got %q`, logs.String())
	}
}

func TestDispatcher_RegisterDuringDispatch(t *testing.T) {
	d := NewDispatcher()
	var calls int
	d.On(`test`, func(e *Event) {
		calls++
		d.On(`test`, func(e *Event) { calls += 10 })
	})
	d.Fire(`test`, nil, nil)
	if calls != 1 {
		t.Errorf(`listeners added during dispatch should not run, got %d`, calls)
	}
	d.Fire(`test`, nil, nil)
	if calls != 12 {
		t.Errorf(`expected 12, got %d`, calls)
	}
}

func TestEvent_Flags(t *testing.T) {
	e := NewEvent(EventLoad, nil, nil)
	if e.DefaultPrevented() || e.PropagationStopped() || e.ImmediatePropagationStopped() {
		t.Fatal(`expected no flags`)
	}
	if e.Timestamp.IsZero() {
		t.Error(`expected timestamp`)
	}
	e.PreventDefault().PreventDefault()
	if !e.DefaultPrevented() {
		t.Error(`expected default prevented`)
	}
	if e.Item() != nil {
		t.Error(`expected nil item`)
	}
	if _, ok := e.Progress(); ok {
		t.Error(`expected no progress`)
	}
	e = NewEvent(EventProgress, nil, &ProgressData{Loaded: 3})
	if p, ok := e.Progress(); !ok || p.Loaded != 3 {
		t.Errorf(`unexpected progress: %+v %v`, p, ok)
	}
}
