package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// lowSuccessRate is the success percentage below which the report warns.
const lowSuccessRate = 50

// MarkdownWriter renders a Summary as GitHub-flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write implements Writer.
func (w *MarkdownWriter) Write(s *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeOverview(md, s)
	w.writeOutcomes(md, s)
	w.writeFrontier(md, s)
	w.writeHosts(md, s)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by darc on %s*", formatTime(s.Generated))

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeOverview(md *markdown.Markdown, s *Summary) {
	md.H1("darc crawl summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Database", "`" + s.Database + "`"},
			{"Visits", strconv.Itoa(s.Visits)},
			{"Distinct URLs", strconv.Itoa(s.URLs)},
			{"Hosts", strconv.Itoa(s.Hosts)},
			{"Links", strconv.Itoa(s.Links)},
			{"Success rate", strconv.FormatFloat(s.SuccessRate(), 'f', 1, 64) + "%"},
			{"First visit", formatTime(s.FirstVisit)},
			{"Last visit", formatTime(s.LastVisit)},
		},
	})
	md.PlainText("")

	switch {
	case s.Visits == 0:
		md.Note("No visits have been recorded yet.")
	case s.SuccessRate() < lowSuccessRate:
		md.Warningf("Only %d of %d visits succeeded. Check the Tor connection and the failure outcomes.",
			s.Successful(), s.Visits)
	default:
		md.Tip(fmt.Sprintf("%d of %d visits succeeded.", s.Successful(), s.Visits))
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeOutcomes(md *markdown.Markdown, s *Summary) {
	md.H2("Outcomes")
	md.PlainText("")
	if len(s.Outcomes) == 0 {
		md.PlainText("No visits recorded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(s.Outcomes))
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Visit outcomes"),
		piechart.WithShowData(true),
	)
	for _, o := range s.Outcomes {
		rows = append(rows, []string{string(o.Kind), strconv.Itoa(o.Count)})
		chart.LabelAndIntValue(string(o.Kind), uint64(o.Count))
	}
	md.Table(markdown.TableSet{Header: []string{"Outcome", "Visits"}, Rows: rows})
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeFrontier(md *markdown.Markdown, s *Summary) {
	if s.Frontier == nil {
		return
	}
	f := s.Frontier
	md.H2("Frontier")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"State", "URLs"},
		Rows: [][]string{
			{"pending", strconv.Itoa(f.Pending)},
			{"delayed", strconv.Itoa(f.Delayed)},
			{"in-flight", strconv.Itoa(f.InFlight)},
			{"visited", strconv.Itoa(f.Visited)},
			{"dead", strconv.Itoa(f.Dead)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeHosts(md *markdown.Markdown, s *Summary) {
	md.H2("Top hosts")
	md.PlainText("")
	if len(s.TopHosts) == 0 {
		md.PlainText("No hosts visited.")
		md.PlainText("")
		return
	}
	rows := make([][]string, 0, len(s.TopHosts))
	for _, h := range s.TopHosts {
		rows = append(rows, []string{"`" + h.Host + "`", strconv.Itoa(h.Visits)})
	}
	md.Table(markdown.TableSet{Header: []string{"Host", "Visits"}, Rows: rows})
	md.PlainText("")
}
