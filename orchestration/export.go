package orchestration

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ravenoak/autoresearch/storage"
)

// ExportKnowledgeGraphJSON serialises claims into spec §6's JSON export
// schema: {nodes:[...], edges:[...]}, UTF-8, sorted keys, stable ordering
// by id. Hand-rolled rather than encoding/json-marshalled because the spec
// pins an exact key order per object — something encoding/json's
// alphabetical-by-default struct marshalling cannot guarantee without a
// matching field declaration order, which is more fragile to keep in sync
// than building the string directly.
func ExportKnowledgeGraphJSON(claims []*storage.Claim) string {
	sorted := append([]*storage.Claim(nil), claims...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	b.WriteString(`{"nodes":[`)
	for i, c := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"audit_status":%s,"confidence":%s,"id":%s,"kind":%s,"text":%s}`,
			jsonString(string(c.AuditStatus)), strconv.FormatFloat(c.Confidence, 'f', -1, 64),
			jsonString(c.ID), jsonString(string(c.Kind)), jsonString(c.Text))
	}
	b.WriteString(`],"edges":[`)
	first := true
	for _, c := range sorted {
		relations := append([]storage.Relation(nil), c.Relations...)
		sort.SliceStable(relations, func(i, j int) bool {
			if relations[i].To != relations[j].To {
				return relations[i].To < relations[j].To
			}
			return relations[i].Kind < relations[j].Kind
		})
		for _, r := range relations {
			if !first {
				b.WriteByte(',')
			}
			first = false
			fmt.Fprintf(&b, `{"kind":%s,"source":%s,"target":%s}`,
				jsonString(string(r.Kind)), jsonString(c.ID), jsonString(r.To))
		}
	}
	b.WriteString(`]}`)
	return b.String()
}

func jsonString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// ExportKnowledgeGraphGraphML serialises claims into GraphML 1.2 with
// extension attributes claim.kind/claim.confidence/claim.audit_status
// (spec §6), ordered and escaped the same way ExportKnowledgeGraphJSON is.
func ExportKnowledgeGraphGraphML(claims []*storage.Claim) string {
	sorted := append([]*storage.Claim(nil), claims...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<graphml xmlns="http://graphml.graphdrawing.org/xmlns">`)
	b.WriteString(`<key id="kind" for="node" attr.name="claim.kind" attr.type="string"/>`)
	b.WriteString(`<key id="confidence" for="node" attr.name="claim.confidence" attr.type="double"/>`)
	b.WriteString(`<key id="audit_status" for="node" attr.name="claim.audit_status" attr.type="string"/>`)
	b.WriteString(`<key id="relation" for="edge" attr.name="claim.relation" attr.type="string"/>`)
	b.WriteString(`<graph id="G" edgedefault="directed">`)
	for _, c := range sorted {
		fmt.Fprintf(&b, `<node id=%s>`, xmlAttr(c.ID))
		fmt.Fprintf(&b, `<data key="kind">%s</data>`, xmlEscape(string(c.Kind)))
		fmt.Fprintf(&b, `<data key="confidence">%s</data>`, strconv.FormatFloat(c.Confidence, 'f', -1, 64))
		fmt.Fprintf(&b, `<data key="audit_status">%s</data>`, xmlEscape(string(c.AuditStatus)))
		b.WriteString(`</node>`)
	}
	edgeID := 0
	for _, c := range sorted {
		relations := append([]storage.Relation(nil), c.Relations...)
		sort.SliceStable(relations, func(i, j int) bool {
			if relations[i].To != relations[j].To {
				return relations[i].To < relations[j].To
			}
			return relations[i].Kind < relations[j].Kind
		})
		for _, r := range relations {
			fmt.Fprintf(&b, `<edge id="e%d" source=%s target=%s>`, edgeID, xmlAttr(c.ID), xmlAttr(r.To))
			fmt.Fprintf(&b, `<data key="relation">%s</data>`, xmlEscape(string(r.Kind)))
			b.WriteString(`</edge>`)
			edgeID++
		}
	}
	b.WriteString(`</graph></graphml>`)
	return b.String()
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;")
	return replacer.Replace(s)
}

func xmlAttr(s string) string {
	return `"` + xmlEscape(s) + `"`
}

// ExportReactTraceJSON serialises a ReActTrace into spec §6's JSON array of
// steps, ISO-8601 timestamps with millisecond precision.
func ExportReactTraceJSON(trace ReActTrace) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, step := range trace.Steps {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"timestamp":%s,"thought":%s,"action":%s,"observation":%s,"tool":%s,"input":%s,"output":%s`,
			jsonString(step.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")),
			jsonString(step.Thought), jsonString(step.Action), jsonString(step.Observation),
			jsonString(step.Tool), jsonString(step.Input), jsonString(step.Output))
		if step.Confidence != nil {
			fmt.Fprintf(&b, `,"confidence":%s}`, strconv.FormatFloat(*step.Confidence, 'f', -1, 64))
		} else {
			b.WriteString(`}`)
		}
	}
	b.WriteByte(']')
	return b.String()
}
