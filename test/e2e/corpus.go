// Package e2e provides end-to-end tests over an on-disk case library and multiple queries.
package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// E2ECase is one case directory in the E2E library. Its document is named after ID so the
// imported case title equals ID.
type E2ECase struct {
	ID      string
	Topic   string
	Ext     string
	Content string
}

// QueryTestCase defines a query and the case ID(s) that must appear in search results.
// At least one of ExpectedCaseIDs must be present in the top results.
type QueryTestCase struct {
	Query           string
	ExpectedCaseIDs []string
	Description     string
}

// Corpus holds cases and query test cases for E2E tests.
type Corpus struct {
	Cases        []E2ECase
	TestCases    []QueryTestCase
	TotalCases   int
	TotalQueries int
}

type topic struct {
	name    string
	phrase  string
	content string
}

var topics = []topic{
	{"vision", "PCB solder joint defect inspection", "Machine vision system for PCB solder joint defect inspection on SMT lines. Cameras capture each board and a detection model flags bridging and voids."},
	{"agv", "warehouse AGV laser SLAM navigation", "Fleet of warehouse AGV robots using laser SLAM navigation to move pallets between racks and docks without floor markers."},
	{"drone", "drone inventory counting RFID", "Drone inventory counting for high bay racks. Drones read RFID tags and barcodes and reconcile stock with the WMS overnight."},
	{"maintenance", "predictive maintenance vibration sensors", "Predictive maintenance for rotating equipment. Vibration sensors stream spectra to an anomaly model that schedules repairs before failure."},
	{"energy", "energy consumption optimization HVAC", "Energy consumption optimization for office campuses. HVAC setpoints are tuned from occupancy forecasts and weather data."},
	{"medical", "medical imaging lung nodule screening", "Medical imaging assistant for lung nodule screening on CT scans. Radiologists review ranked findings inside the PACS viewer."},
	{"retail", "retail shelf stockout detection cameras", "Retail shelf stockout detection with ceiling cameras. Store staff receive replenishment alerts on handheld devices."},
	{"finance", "invoice OCR reconciliation workflow", "Invoice OCR reconciliation workflow for accounts payable. Extracted fields are matched against purchase orders and receipts."},
	{"agriculture", "greenhouse crop monitoring irrigation", "Greenhouse crop monitoring with soil moisture probes. Irrigation valves are driven by a growth model per crop zone."},
	{"traffic", "traffic signal timing video analytics", "Traffic signal timing driven by video analytics at intersections. Queue lengths adjust green phases in real time."},
	{"chatbot", "customer service chatbot knowledge base", "Customer service chatbot grounded in a product knowledge base. Escalations hand the transcript to a human agent."},
	{"steel", "steel surface defect classification", "Steel surface defect classification on the hot rolling line. Line scan cameras grade scratches, scale and pits per coil."},
}

// LibraryExtensions are the document types the E2E library rotates through. PDF is left
// out because a minimal PDF with extractable text is not generated here.
var LibraryExtensions = []string{".docx", ".md", ".pptx", ".txt", ".xlsx"}

// BuildCorpus returns a corpus of n cases spread over the topics, plus one query per topic.
// Each case document repeats its topic's signature phrase so queries can assert the
// correct case family is returned.
func BuildCorpus(n int) *Corpus {
	cases := buildCases(n)
	queries := buildQueryTestCases(cases)
	return &Corpus{
		Cases:        cases,
		TestCases:    queries,
		TotalCases:   len(cases),
		TotalQueries: len(queries),
	}
}

func buildCases(n int) []E2ECase {
	cases := make([]E2ECase, n)
	for i := 0; i < n; i++ {
		t := topics[i%len(topics)]
		var b strings.Builder
		fmt.Fprintf(&b, "%s\n", t.content)
		fmt.Fprintf(&b, "Project %d delivered %s for client %d.\n", i, t.phrase, i*7+3)
		fmt.Fprintf(&b, "Outcome: %s reduced manual effort and improved accuracy.\n", t.phrase)
		cases[i] = E2ECase{
			ID:      fmt.Sprintf("case-%03d", i),
			Topic:   t.name,
			Ext:     LibraryExtensions[i%len(LibraryExtensions)],
			Content: b.String(),
		}
	}
	return cases
}

func buildQueryTestCases(cases []E2ECase) []QueryTestCase {
	byTopic := make(map[string][]string)
	for _, c := range cases {
		byTopic[c.Topic] = append(byTopic[c.Topic], c.ID)
	}
	var out []QueryTestCase
	for _, t := range topics {
		ids := byTopic[t.name]
		if len(ids) == 0 {
			continue
		}
		out = append(out, QueryTestCase{
			Query:           t.phrase,
			ExpectedCaseIDs: ids,
			Description:     t.name + " signature phrase",
		})
	}
	return out
}

// WriteLibrary writes each case as root/<id>/<id><ext> and returns root.
func (c *Corpus) WriteLibrary(root string) error {
	for _, ec := range c.Cases {
		dir := filepath.Join(root, ec.ID)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		data, err := WriteMinimalFile(ec.Ext, ec.Content)
		if err != nil {
			return fmt.Errorf("%s: %w", ec.ID, err)
		}
		if err := os.WriteFile(filepath.Join(dir, ec.ID+ec.Ext), data, 0644); err != nil {
			return err
		}
	}
	return nil
}
