package resourcemon

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeArena struct{ inUse, size int }

func (f fakeArena) InUse() int { return f.inUse }
func (f fakeArena) Size() int  { return f.size }

func TestMonitorSamplesAndReportsArenaPressure(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	m := New(5*time.Millisecond, fakeArena{inUse: 50, size: 200}, logger.WithField("test", true))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	last := m.Last()
	if last.ArenaInUse != 50 || last.ArenaSize != 200 {
		t.Fatalf("expected arena sample to be recorded, got %+v", last)
	}
	if got := last.ArenaPressure(); got != 0.25 {
		t.Fatalf("expected pressure 0.25, got %f", got)
	}
}

func TestArenaPressureZeroSize(t *testing.T) {
	s := Sample{}
	if s.ArenaPressure() != 0 {
		t.Fatal("expected zero pressure with zero-size arena")
	}
}
