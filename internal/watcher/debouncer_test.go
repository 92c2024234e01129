package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []FileEvent) []FileEvent {
	t.Helper()
	select {
	case batch, ok := <-ch:
		require.True(t, ok, "output closed")
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for batch")
		return nil
	}
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want Operation
	}{
		{"single create", []Operation{OpCreate}, OpCreate},
		{"create then modify stays create", []Operation{OpCreate, OpModify, OpModify}, OpCreate},
		{"modify then delete", []Operation{OpModify, OpDelete}, OpDelete},
		{"delete then create is a replace", []Operation{OpDelete, OpCreate}, OpModify},
		{"repeated modify", []Operation{OpModify, OpModify, OpModify}, OpModify},
		{"rename keeps latest", []Operation{OpRename, OpModify}, OpModify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20*time.Millisecond, nil)
			defer d.Stop()

			// When: the operations arrive within one window
			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "app.go", Operation: op, Timestamp: time.Now()})
			}

			// Then: one merged event comes out
			batch := receive(t, d.Output())
			require.Len(t, batch, 1)
			assert.Equal(t, "app.go", batch[0].Path)
			assert.Equal(t, tt.want, batch[0].Operation)
		})
	}
}

func TestDebouncer_CreateThenDeleteCancels(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "tmp.go", Operation: OpCreate})
	d.Add(FileEvent{Path: "tmp.go", Operation: OpDelete})

	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected batch %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	for _, p := range []string{"c.go", "a.go", "b.go"} {
		d.Add(FileEvent{Path: p, Operation: OpModify})
	}

	batch := receive(t, d.Output())
	require.Len(t, batch, 3)
	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, []string{batch[0].Path, batch[1].Path, batch[2].Path})
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(time.Hour, nil)
	d.Add(FileEvent{Path: "a.go", Operation: OpModify})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "b.go", Operation: OpModify})

	_, ok := <-d.Output()
	assert.False(t, ok)
}
