// Licensed under the MIT License. See LICENSE file in the project root for details.

package epoch

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGateThrottling(t *testing.T) {
	Convey("Given a gate with a 2 second break time", t, func() {
		g := NewGate(2)
		base := time.Unix(1000, 0)

		Convey("The first TryEnter always wins", func() {
			So(g.TryEnter(base), ShouldBeTrue)

			Convey("A second call inside the window loses", func() {
				So(g.TryEnter(base.Add(time.Second)), ShouldBeFalse)
			})

			Convey("A call at exactly the break time wins", func() {
				So(g.TryEnter(base.Add(2*time.Second)), ShouldBeTrue)
			})

			Convey("A call past the break time wins", func() {
				So(g.TryEnter(base.Add(5*time.Second)), ShouldBeTrue)
			})
		})

		Convey("BreakTime reports the configured window", func() {
			So(g.BreakTime(), ShouldEqual, int64(2))
		})
	})
}

func TestGateConcurrentEntry(t *testing.T) {
	Convey("Given a gate and many goroutines racing TryEnter at the same instant", t, func() {
		g := NewGate(2)
		now := time.Unix(2000, 0)

		const n = 100
		wins := make(chan bool, n)
		done := make(chan struct{})
		for i := 0; i < n; i++ {
			go func() {
				wins <- g.TryEnter(now)
				done <- struct{}{}
			}()
		}
		for i := 0; i < n; i++ {
			<-done
		}
		close(wins)

		winCount := 0
		for w := range wins {
			if w {
				winCount++
			}
		}

		Convey("Exactly one goroutine wins", func() {
			So(winCount, ShouldEqual, 1)
		})
	})
}

func TestTracker(t *testing.T) {
	Convey("Given a new tracker", t, func() {
		tr := NewTracker()
		So(tr.Active(), ShouldEqual, 0)

		Convey("Entering bumps the active count", func() {
			done1 := tr.Enter()
			So(tr.Active(), ShouldEqual, 1)

			done2 := tr.Enter()
			So(tr.Active(), ShouldEqual, 2)

			Convey("Completing decrements it back down", func() {
				done1()
				So(tr.Active(), ShouldEqual, 1)
				done2()
				So(tr.Active(), ShouldEqual, 0)
			})
		})
	})
}
