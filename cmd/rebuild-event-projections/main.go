// Command rebuild-event-projections rebuilds per-request status
// projections from an NDJSON export of Execution Events (the same format
// kernel/retention.Manager writes via ExportThenEvict) and writes a JSON
// report plus a human-readable Markdown summary, so an operator can
// inspect request outcomes offline without querying the live event
// store.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"goa.design/autonomy-kernel/kernel/projection"
	"goa.design/autonomy-kernel/kernel/types"
)

func main() {
	eventsFile := flag.String("events-file", "", "path to an NDJSON file of exported Execution Events")
	jsonOut := flag.String("json-out", "", "path to write the JSON projection report (default: <events-file>.projections.json)")
	mdOut := flag.String("md-out", "", "path to write the Markdown projection report (default: <events-file>.projections.md)")
	flag.Parse()

	if *eventsFile == "" {
		fmt.Fprintln(os.Stderr, "rebuild-event-projections: --events-file is required")
		os.Exit(2)
	}

	events, err := readEventsNDJSON(*eventsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild-event-projections: %v\n", err)
		os.Exit(1)
	}

	projections := projection.RebuildAllRequestProjections(events)
	sort.Slice(projections, func(i, j int) bool { return projections[i].RequestID < projections[j].RequestID })

	jsonPath := *jsonOut
	if jsonPath == "" {
		jsonPath = *eventsFile + ".projections.json"
	}
	if err := writeJSONReport(jsonPath, projections); err != nil {
		fmt.Fprintf(os.Stderr, "rebuild-event-projections: %v\n", err)
		os.Exit(1)
	}

	mdPath := *mdOut
	if mdPath == "" {
		mdPath = *eventsFile + ".projections.md"
	}
	if err := writeMarkdownReport(mdPath, projections); err != nil {
		fmt.Fprintf(os.Stderr, "rebuild-event-projections: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("rebuilt %d request projections from %d events\n", len(projections), len(events))
	fmt.Printf("wrote %s\n", jsonPath)
	fmt.Printf("wrote %s\n", mdPath)
}

func readEventsNDJSON(path string) ([]types.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parse event line: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}
	return events, nil
}

func writeJSONReport(path string, projections []projection.RequestProjection) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create json report: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(projections); err != nil {
		return fmt.Errorf("write json report: %w", err)
	}
	return nil
}

func writeMarkdownReport(path string, projections []projection.RequestProjection) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create markdown report: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# Event Projection Report")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d requests\n\n", len(projections))
	fmt.Fprintln(w, "| Request ID | Status | Events | Compensation | Unresolved Incident | Verification Failure | Invariant Violation |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
	for _, p := range projections {
		fmt.Fprintf(w, "| %s | %s | %d | %s | %s | %s | %s |\n",
			p.RequestID, p.Status, p.EventCount,
			yesNo(p.HasCompensation), yesNo(p.HasUnresolvedCompensationIncident),
			yesNo(p.HasVerificationFailure), yesNo(p.HasCriticalInvariantViolation))
	}
	return w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
