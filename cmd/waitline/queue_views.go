package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"waitline/internal/api"
)

var waitingSpec = tableSpec{
	title:   "Waiting",
	headers: []string{"Rank", "Entry", "Worker", "Name", "Waiting"},
	aligns:  []columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignRight},
}

var inServiceSpec = tableSpec{
	title:   "In service",
	headers: []string{"Entry", "Worker", "Name", "Since"},
	aligns:  []columnAlignment{alignRight, alignRight, alignLeft, alignRight},
}

func renderSnapshot(snap api.Snapshot, colorize bool) string {
	now := time.Now()
	var b strings.Builder
	if len(snap.Waiting) == 0 {
		b.WriteString("Nobody is waiting\n")
	} else {
		rows := make([][]string, 0, len(snap.Waiting))
		for _, e := range snap.Waiting {
			rows = append(rows, []string{
				strconv.Itoa(e.Rank),
				strconv.FormatInt(e.ID, 10),
				strconv.FormatInt(e.WorkerID, 10),
				e.DisplayName,
				formatElapsed(api.ParseTime(e.ArrivedAt), now),
			})
		}
		spec := waitingSpec
		spec.colorize = colorize
		b.WriteString(renderTable(spec, rows))
	}
	if len(snap.InService) > 0 {
		rows := make([][]string, 0, len(snap.InService))
		for _, e := range snap.InService {
			rows = append(rows, []string{
				strconv.FormatInt(e.ID, 10),
				strconv.FormatInt(e.WorkerID, 10),
				e.DisplayName,
				formatElapsed(api.ParseTime(e.UpdatedAt), now),
			})
		}
		spec := inServiceSpec
		spec.colorize = colorize
		b.WriteString(renderTable(spec, rows))
	}
	return b.String()
}

func renderWatchLine(snap api.Snapshot, colorize bool) string {
	names := make([]string, 0, len(snap.Waiting))
	for _, e := range snap.Waiting {
		names = append(names, fmt.Sprintf("%d. %s", e.Rank, e.DisplayName))
	}
	line := "(empty)"
	if len(names) > 0 {
		line = strings.Join(names, "  ")
	}
	prefix := fmt.Sprintf("#%d waiting=%d in_service=%d", snap.Sequence, len(snap.Waiting), len(snap.InService))
	if colorize {
		return renderSectionHeader(prefix, true)[0] + " " + line
	}
	return prefix + " | " + line
}

func formatElapsed(since, now time.Time) string {
	if since.IsZero() {
		return "-"
	}
	d := now.Sub(since)
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
