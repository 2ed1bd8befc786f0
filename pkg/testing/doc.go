// Package testing provides a harness for testing Orbit components.
//
// # Quick Start
//
// Create a harness, mount a component, and make assertions:
//
//	func TestCounter(t *testing.T) {
//	    h := orbittest.NewHarnessWithT(t)
//	    counter, err := h.Mount(CounterDef, map[string]any{"title": "Clicks"})
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//
//	    // Dispatch and flush
//	    h.Dispatch(counter.ID(), "increment", nil)
//	    h.Pump()
//
//	    // Find instances
//	    if h.Find(orbittest.ByState("count", 1)).Count() != 1 {
//	        t.Error("expected count to be 1")
//	    }
//	}
//
// # Snapshot Testing
//
// Capture the live instances and the lifecycle trace, and compare them
// against a golden file:
//
//	snapshot := h.CaptureSnapshot()
//	snapshot.MatchesFile(t, "testdata/counter.snapshot.json")
//
// Update snapshots with:
//
//	ORBIT_UPDATE_SNAPSHOTS=1 go test ./...
//
// # Scheduled Interactions
//
// The harness loop runs on a fake clock, so cron schedules fire
// deterministically:
//
//	h.Loop().Schedule("@hourly", counter.ID(), "increment", nil)
//	h.Clock().Advance(time.Hour)
//	h.Pump()
//
// # Import Alias
//
// Since this package has the same name as the standard library testing
// package, import it with an alias:
//
//	import orbittest "github.com/go-orbit/orbit/pkg/testing"
package testing
