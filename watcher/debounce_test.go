package watcher

import (
	"testing"
	"time"
)

func TestCoalescer_TextOnly(t *testing.T) {
	tests := []struct {
		name string
		ops  []Op
		want bool
	}{
		{"typing", []Op{OpText, OpText, OpText}, true},
		{"typing then insert", []Op{OpText, OpInsert, OpText}, false},
		{"attribute", []Op{OpAttr}, false},
		{"scan", []Op{OpScan}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []batch
			c := newCoalescer(time.Hour, 0, func(b batch) { got = append(got, b) })
			for _, op := range tt.ops {
				c.add(op)
			}
			c.flush()
			if len(got) != 1 || got[0].size != len(tt.ops) || got[0].textOnly != tt.want {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestCoalescer_SummaryResetsAfterFlush(t *testing.T) {
	var got []batch
	c := newCoalescer(time.Hour, 0, func(b batch) { got = append(got, b) })
	c.add(OpInsert)
	c.flush()
	c.add(OpText)
	c.flush()
	if len(got) != 2 || got[0].textOnly || !got[1].textOnly || got[1].size != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestCoalescer_MaxFlushesImmediately(t *testing.T) {
	var got []batch
	c := newCoalescer(time.Hour, 3, func(b batch) { got = append(got, b) })
	c.add(OpInsert)
	c.add(OpInsert)
	if full := c.add(OpInsert); !full {
		t.Fatal("third signal should have flushed")
	}
	if len(got) != 1 || got[0].size != 3 {
		t.Fatalf("got %+v", got)
	}
	if c.C() != nil {
		t.Fatal("window left armed after flush")
	}
}

func TestCoalescer_WindowRestarts(t *testing.T) {
	var got []batch
	c := newCoalescer(20*time.Millisecond, 0, func(b batch) { got = append(got, b) })
	c.add(OpInsert)
	time.Sleep(10 * time.Millisecond)
	c.add(OpRemove)

	select {
	case <-c.C():
		c.flush()
	case <-time.After(time.Second):
		t.Fatal("window never expired")
	}
	if len(got) != 1 || got[0].size != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestCoalescer_EmptyFlush(t *testing.T) {
	called := false
	c := newCoalescer(0, 0, func(batch) { called = true })
	c.flush()
	if called || c.C() != nil {
		t.Fatal("empty flush emitted a batch")
	}
	if c.window != 100*time.Millisecond || c.max != 500 {
		t.Fatalf("defaults: %v %d", c.window, c.max)
	}
}
