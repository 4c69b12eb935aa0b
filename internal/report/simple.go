package report

import (
	"fmt"
	"io"
	"strings"
)

const ruleWidth = 60

// SimpleWriter renders a Summary as plain text for the terminal.
type SimpleWriter struct {
	baseWriter

	// showEmpty prints sections that have nothing to show.
	showEmpty bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty prints empty sections too.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write implements Writer.
func (w *SimpleWriter) Write(s *Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, s)
	w.writeOutcomes(&sb, s)
	w.writeFrontier(&sb, s)
	w.writeHosts(&sb, s)
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, s *Summary) {
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString("DARC CRAWL SUMMARY\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Database:     %s\n", s.Database)
	fmt.Fprintf(sb, "Generated:    %s\n", formatTime(s.Generated))
	fmt.Fprintf(sb, "Visits:       %d (%d urls, %d hosts)\n", s.Visits, s.URLs, s.Hosts)
	fmt.Fprintf(sb, "Links:        %d\n", s.Links)
	fmt.Fprintf(sb, "Success rate: %.1f%%\n", s.SuccessRate())
	fmt.Fprintf(sb, "First visit:  %s\n", formatTime(s.FirstVisit))
	fmt.Fprintf(sb, "Last visit:   %s\n", formatTime(s.LastVisit))
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeOutcomes(sb *strings.Builder, s *Summary) {
	if len(s.Outcomes) == 0 && !w.showEmpty {
		return
	}
	section(sb, "OUTCOMES")
	if len(s.Outcomes) == 0 {
		sb.WriteString("  No visits recorded\n\n")
		return
	}
	for _, o := range s.Outcomes {
		fmt.Fprintf(sb, "  %-16s %d\n", o.Kind+":", o.Count)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFrontier(sb *strings.Builder, s *Summary) {
	if s.Frontier == nil {
		return
	}
	f := s.Frontier
	section(sb, "FRONTIER")
	fmt.Fprintf(sb, "  pending:   %d\n", f.Pending)
	fmt.Fprintf(sb, "  delayed:   %d\n", f.Delayed)
	fmt.Fprintf(sb, "  in-flight: %d\n", f.InFlight)
	fmt.Fprintf(sb, "  visited:   %d\n", f.Visited)
	fmt.Fprintf(sb, "  dead:      %d\n", f.Dead)
	fmt.Fprintf(sb, "  hosts:     %d\n", f.Hosts)
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeHosts(sb *strings.Builder, s *Summary) {
	if len(s.TopHosts) == 0 && !w.showEmpty {
		return
	}
	section(sb, "TOP HOSTS")
	if len(s.TopHosts) == 0 {
		sb.WriteString("  No hosts visited\n\n")
		return
	}
	for i, h := range s.TopHosts {
		fmt.Fprintf(sb, "  %2d. %s (%d)\n", i+1, h.Host, h.Visits)
	}
	sb.WriteString("\n")
}
