package preload_test

import (
	"context"
	"fmt"
	"time"

	preload "github.com/joeycumines/go-preload"
)

func Example() {
	q, err := preload.New()
	if err != nil {
		panic(err)
	}
	defer q.Close()

	slow := func(ctx context.Context, item *preload.Item) error {
		select {
		case <-time.After(20 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	batch, err := q.FetchAll(preload.Resources{
		{Name: `app`, Config: &preload.Config{Kind: `none`, Awaiting: preload.StringList{`lib`}}},
		{Name: `lib`, Config: &preload.Config{Loader: slow}},
	})
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	items, err := batch.Wait(ctx)
	if err != nil {
		panic(err)
	}

	for _, item := range items {
		fmt.Println(item, item.State())
	}

	// Output:
	// none item "app" loaded|processed|resolved|ready
	// custom item "lib" loaded|processed|resolved|ready
}

func ExampleQueue_On() {
	q, err := preload.New(preload.WithDefer(true), preload.WithAutoprocess(false))
	if err != nil {
		panic(err)
	}
	defer q.Close()

	done := make(chan struct{})
	q.On(preload.EventReady, func(e *preload.Event) {
		fmt.Println(`ready:`, e.Item().ID())
	})
	q.On(preload.EventAfterProcess, func(e *preload.Event) {
		close(done)
	})

	for _, id := range []string{`first`, `second`, `third`} {
		if _, err := q.Fetch(`none`, &preload.Config{ID: id}); err != nil {
			panic(err)
		}
	}

	if err := q.Process(); err != nil {
		panic(err)
	}

	<-done

	// Output:
	// ready: first
	// ready: second
	// ready: third
}
