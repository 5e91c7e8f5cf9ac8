package actions

import "testing"

func TestScanWrite(t *testing.T) {
	spans := Scan("<WRITE>hello\nworld</WRITE>")
	if len(spans) != 1 || spans[0].Kind != Write || spans[0].Payload != "hello\nworld" {
		t.Fatalf("got %+v", spans)
	}
}

func TestScanEraseValidBounds(t *testing.T) {
	spans := Scan(`<ERASE start="3" end="7"/>`)
	if len(spans) != 1 || spans[0].Kind != Erase || spans[0].Start != 3 || spans[0].End != 7 {
		t.Fatalf("got %+v", spans)
	}
}

func TestScanEraseInvalidBoundsDropped(t *testing.T) {
	spans := Scan(`<ERASE start="7" end="3"/>`)
	if len(spans) != 0 {
		t.Fatalf("expected invalid bounds to be dropped, got %+v", spans)
	}
}

func TestScanEraseMissingAttrsDropped(t *testing.T) {
	spans := Scan(`<ERASE start="3"/>`)
	if len(spans) != 0 {
		t.Fatalf("expected missing end to drop the span, got %+v", spans)
	}
}

func TestScanReplace(t *testing.T) {
	spans := Scan(`<REPLACE start="2" end="4">new\nlines</REPLACE>`)
	if len(spans) != 1 || spans[0].Kind != Replace || spans[0].Start != 2 || spans[0].End != 4 {
		t.Fatalf("got %+v", spans)
	}
}

func TestScanExec(t *testing.T) {
	spans := Scan("<EXEC>go test ./...</EXEC>")
	if len(spans) != 1 || spans[0].Kind != Exec || spans[0].Payload != "go test ./..." {
		t.Fatalf("got %+v", spans)
	}
}

func TestScanGoto(t *testing.T) {
	spans := Scan(`<GOTO path="./next.txt"/>`)
	if len(spans) != 1 || spans[0].Kind != Goto || spans[0].Path != "./next.txt" {
		t.Fatalf("got %+v", spans)
	}
}

func TestScanState(t *testing.T) {
	spans := Scan("<STATE>q_2: continuing</STATE>")
	if len(spans) != 1 || spans[0].Kind != State || spans[0].Payload != "q_2: continuing" {
		t.Fatalf("got %+v", spans)
	}
}

func TestScanPreservesTextualOrder(t *testing.T) {
	s := `<EXEC>go build ./...</EXEC> then <WRITE>log line</WRITE> then <GOTO path="./out.txt"/>`
	spans := Scan(s)
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %+v", spans)
	}
	if spans[0].Kind != Exec || spans[1].Kind != Write || spans[2].Kind != Goto {
		t.Fatalf("expected Exec, Write, Goto order, got %+v", spans)
	}
}

func TestHasStructuredActionFalseForPlainText(t *testing.T) {
	if HasStructuredAction("just some plain appended text") {
		t.Error("expected no structured action for plain text")
	}
}

func TestHasStructuredActionTrueWhenTagPresent(t *testing.T) {
	if !HasStructuredAction("<WRITE>x</WRITE>") {
		t.Error("expected structured action detected")
	}
}
