// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codervisor/devlog-sub006/lib/aggregate"
	"github.com/codervisor/devlog-sub006/lib/observeerr"
	"github.com/codervisor/devlog-sub006/lib/schema/agentobs"
)

// queryParams parses URL query values and collects the names of every
// malformed parameter, so one response reports them all.
type queryParams struct {
	values  url.Values
	invalid []string
}

func newQueryParams(values url.Values) *queryParams {
	return &queryParams{values: values}
}

func (q *queryParams) text(name string) string {
	return strings.TrimSpace(q.values.Get(name))
}

func (q *queryParams) integer64(name string) int64 {
	raw := q.text(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		q.invalid = append(q.invalid, name)
		return 0
	}
	return value
}

func (q *queryParams) integer(name string) int {
	return int(q.integer64(name))
}

// timestamp accepts RFC 3339 timestamps and Unix milliseconds.
func (q *queryParams) timestamp(name string) time.Time {
	raw := q.text(name)
	if raw == "" {
		return time.Time{}
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return parsed.UTC()
	}
	if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(millis).UTC()
	}
	q.invalid = append(q.invalid, name)
	return time.Time{}
}

func (q *queryParams) optionalBool(name string) *bool {
	raw := q.text(name)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		q.invalid = append(q.invalid, name)
		return nil
	}
	return &value
}

// list accepts both repeated parameters and comma-separated values.
func (q *queryParams) list(name string) []string {
	var items []string
	for _, raw := range q.values[name] {
		for item := range strings.SplitSeq(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

func (q *queryParams) err() error {
	if len(q.invalid) == 0 {
		return nil
	}
	return observeerr.Validation(q.invalid, "invalid query parameters: %s", strings.Join(q.invalid, ", "))
}

// eventFilter parses the event query parameters. Filter values such as
// an unknown event type are checked by the ingest service.
func eventFilter(values url.Values) (agentobs.EventFilter, error) {
	q := newQueryParams(values)
	filter := agentobs.EventFilter{
		SessionID:     q.text("sessionId"),
		ProjectID:     q.integer64("projectId"),
		AgentID:       q.text("agentId"),
		EventType:     agentobs.NormalizeEventType(q.text("eventType")),
		Severity:      agentobs.Severity(q.text("severity")),
		From:          q.timestamp("from"),
		To:            q.timestamp("to"),
		Since:         q.timestamp("since"),
		AfterSequence: q.integer64("afterSequence"),
		Tags:          q.list("tags"),
		Limit:         q.integer("limit"),
		Offset:        q.integer("offset"),
	}
	return filter, q.err()
}

func sessionFilter(values url.Values) (agentobs.SessionFilter, error) {
	q := newQueryParams(values)
	filter := agentobs.SessionFilter{
		ProjectID: q.integer64("projectId"),
		AgentID:   q.text("agentId"),
		Outcome:   agentobs.SessionOutcome(q.text("outcome")),
		Active:    q.optionalBool("active"),
		From:      q.timestamp("from"),
		To:        q.timestamp("to"),
		Limit:     q.integer("limit"),
		Offset:    q.integer("offset"),
	}
	if err := q.err(); err != nil {
		return filter, err
	}
	var invalid []string
	if filter.Outcome != "" && !filter.Outcome.Valid() {
		invalid = append(invalid, "outcome")
	}
	if filter.Limit < 0 {
		invalid = append(invalid, "limit")
	}
	if filter.Offset < 0 {
		invalid = append(invalid, "offset")
	}
	if len(invalid) > 0 {
		return filter, observeerr.Validation(invalid, "invalid session filter: %s", strings.Join(invalid, ", "))
	}
	return filter, nil
}

func seriesOptions(values url.Values) (projectID int64, options aggregate.SeriesOptions, err error) {
	q := newQueryParams(values)
	projectID = q.integer64("projectId")
	options = aggregate.SeriesOptions{
		Days:        q.integer("days"),
		Granularity: agentobs.Granularity(q.text("granularity")),
	}
	return projectID, options, q.err()
}
