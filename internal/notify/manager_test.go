package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ringtail/che/internal/models"
	"github.com/ringtail/che/internal/tracker"
)

var _ tracker.Notifier = (*Manager)(nil)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, payload []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return p.err
}

func TestManagerFillsIDAndTime(t *testing.T) {
	m := NewManager(Options{})
	m.Notify(models.Notification{Message: "dev is running", Severity: models.SeveritySuccess})

	got := m.Recent(0)
	if len(got) != 1 {
		t.Fatalf("Recent() = %d entries, want 1", len(got))
	}
	if got[0].ID == "" || got[0].Time.IsZero() {
		t.Fatalf("notification = %+v, want id and time", got[0])
	}
}

func TestManagerRingKeepsNewest(t *testing.T) {
	m := NewManager(Options{Capacity: 3})
	for i := 0; i < 5; i++ {
		m.Notify(models.Notification{Message: fmt.Sprintf("n%d", i)})
	}

	got := m.Recent(0)
	want := []string{"n2", "n3", "n4"}
	if len(got) != len(want) {
		t.Fatalf("Recent() = %d entries, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Message != w {
			t.Fatalf("Recent()[%d] = %q, want %q", i, got[i].Message, w)
		}
	}
	if last := m.Recent(1); len(last) != 1 || last[0].Message != "n4" {
		t.Fatalf("Recent(1) = %+v", last)
	}
}

func TestManagerPublishesAndLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := &recordingPublisher{err: errors.New("no responders")}
	m := NewManager(Options{Publisher: pub, Subject: "che.notifications", Logger: zap.New(core)})

	m.Notify(models.Notification{Message: "machine m1 failed", Severity: models.SeverityFail, Mode: models.ModeEmerge})

	if len(pub.subjects) != 1 || pub.subjects[0] != "che.notifications" {
		t.Fatalf("subjects = %v", pub.subjects)
	}
	var n models.Notification
	if err := json.Unmarshal(pub.payloads[0], &n); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if n.Message != "machine m1 failed" || n.Severity != models.SeverityFail {
		t.Fatalf("payload = %+v", n)
	}
	if logs.FilterMessage("machine m1 failed").FilterLevelExact(zap.WarnLevel).Len() != 1 {
		t.Fatalf("failure not logged at warn: %v", logs.All())
	}
	if logs.FilterMessage("publish notification").Len() != 1 {
		t.Fatal("publish error not logged")
	}
}
