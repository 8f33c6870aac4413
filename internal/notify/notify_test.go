package notify

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

type countingSeverity map[string]int

func (c countingSeverity) NotificationSent(severity string) { c[severity]++ }

func TestRecorder_KeepsNewestWithinCapacity(t *testing.T) {
	rec := NewRecorder(3)
	for i := 1; i <= 5; i++ {
		rec.Notify(domain.Notification{Title: fmt.Sprintf("n%d", i)})
	}

	items := rec.List()
	require.Len(t, items, 3)
	require.Equal(t, "n3", items[0].Title)
	require.Equal(t, "n5", items[2].Title)

	items[0].Title = "changed"
	require.Equal(t, "n3", rec.List()[0].Title)
}

func TestRecorder_DefaultCapacity(t *testing.T) {
	rec := NewRecorder(0)
	for i := 0; i < defaultRecorderCapacity+10; i++ {
		rec.Notify(domain.Notification{})
	}
	require.Equal(t, defaultRecorderCapacity, rec.Len())
}

func TestLogNotifier_Levels(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := NewLogNotifier(logger.WithField("component", "notifications"))

	n.Notify(domain.Notification{Severity: domain.SeveritySuccess, Title: "Status updated"})
	n.Notify(domain.Notification{Severity: domain.SeverityError, Title: "Session expired", Action: domain.ActionRelogin})

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	require.Equal(t, logrus.InfoLevel, entries[0].Level)
	require.NotContains(t, entries[0].Data, "action")
	require.Equal(t, logrus.WarnLevel, entries[1].Level)
	require.Equal(t, domain.ActionRelogin, entries[1].Data["action"])
}

func TestFanout(t *testing.T) {
	first, second := NewRecorder(10), NewRecorder(10)
	counter := countingSeverity{}
	fanout := NewFanout(counter, first, nil, second)

	fanout.Notify(domain.Notification{Severity: domain.SeverityError, Title: "Update failed"})
	fanout.Notify(domain.Notification{Severity: domain.SeveritySuccess, Title: "Status updated"})

	require.Equal(t, 2, first.Len())
	require.Equal(t, 2, second.Len())
	require.Equal(t, 1, counter["error"])
	require.Equal(t, 1, counter["success"])
}
