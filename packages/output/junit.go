package output

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/runner"
)

// JUnitTestSuites is the root element.
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Name       string           `xml:"name,attr,omitempty"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Skipped    int              `xml:"skipped,attr"`
	Time       float64          `xml:"time,attr"`
	Timestamp  string           `xml:"timestamp,attr,omitempty"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite maps to one scenario file.
type JUnitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      float64         `xml:"time,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase maps to one stage iteration.
type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

// JUnitFailure carries the stage error.
type JUnitFailure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Content string `xml:",chardata"`
}

// JUnitSkipped marks a skipped stage.
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitFormatter writes JUnit XML.
type JUnitFormatter struct {
	writer io.Writer
	suites []JUnitTestSuite
}

// NewJUnitFormatter creates a JUnit formatter writing to stdout.
func NewJUnitFormatter(w io.Writer) *JUnitFormatter {
	if w == nil {
		w = os.Stdout
	}
	return &JUnitFormatter{writer: w}
}

// Add records one scenario result; Flush writes the combined document.
func (f *JUnitFormatter) Add(result *runner.ScenarioResult) {
	suite := JUnitTestSuite{
		Name:     result.File,
		Tests:    len(result.Stages),
		Failures: result.FailedCount(),
		Skipped:  result.SkippedCount(),
		Time:     result.Duration.Seconds(),
	}

	for _, s := range result.Stages {
		name := s.Stage
		if s.Iteration != "" {
			name += "[" + s.Iteration + "]"
		}
		tc := JUnitTestCase{
			Name:      name,
			ClassName: result.File,
			Time:      s.Duration.Seconds(),
		}
		if s.Skipped {
			tc.Skipped = &JUnitSkipped{Message: "skipped"}
		} else if s.Err != nil {
			tc.Failure = &JUnitFailure{
				Message: s.Err.Error(),
				Type:    fmt.Sprintf("%T", s.Err),
				Content: s.Err.Error(),
			}
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	f.suites = append(f.suites, suite)
}

// Flush writes the document.
func (f *JUnitFormatter) Flush() error {
	root := JUnitTestSuites{
		Name:      "chainspec",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, suite := range f.suites {
		root.Tests += suite.Tests
		root.Failures += suite.Failures
		root.Skipped += suite.Skipped
		root.Time += suite.Time
		root.TestSuites = append(root.TestSuites, suite)
	}

	if _, err := io.WriteString(f.writer, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(f.writer)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return err
	}
	_, err := io.WriteString(f.writer, "\n")
	return err
}
