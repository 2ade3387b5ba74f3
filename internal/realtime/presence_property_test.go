package realtime

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type trackerOp struct {
	register bool
	userID   int64
	connID   string
}

func genTrackerOp() gopter.Gen {
	return gopter.CombineGens(
		gen.Bool(),
		gen.Int64Range(1, 5),
		gen.IntRange(0, 9),
	).Map(func(vals []any) trackerOp {
		return trackerOp{
			register: vals[0].(bool),
			userID:   vals[1].(int64),
			connID:   fmt.Sprintf("conn-%d", vals[2].(int)),
		}
	})
}

// The tracker's two maps must stay mirror images of each other under any
// interleaving of register and unregister calls.
func TestTrackerConsistencyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("online sets mirror connection ownership", prop.ForAll(
		func(ops []trackerOp) bool {
			tr := newTracker()
			for _, op := range ops {
				if op.register {
					tr.register(op.userID, op.connID)
				} else {
					tr.unregister(op.connID)
				}
			}

			// Every owned connection appears in its owner's set.
			for connID, userID := range tr.byConn {
				if _, ok := tr.online[userID][connID]; !ok {
					return false
				}
			}
			// No empty sets, no foreign connections, total counts agree.
			total := 0
			for userID, set := range tr.online {
				if len(set) == 0 {
					return false
				}
				for connID := range set {
					if tr.byConn[connID] != userID {
						return false
					}
					total++
				}
			}
			return total == len(tr.byConn) && tr.onlineCount() == len(tr.online)
		},
		gen.SliceOf(genTrackerOp()),
	))

	properties.TestingRun(t)
}
