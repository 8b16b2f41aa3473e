package httputil

import (
	"strings"
	"testing"
)

func TestReadAllWithLimitTruncates(t *testing.T) {
	body, truncated, err := ReadAllWithLimit(strings.NewReader("hello world"), 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestReadAllWithLimitExactFit(t *testing.T) {
	body, truncated, err := ReadAllWithLimit(strings.NewReader("hello"), 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if truncated {
		t.Fatalf("unexpected truncation")
	}
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestReadAllStrictRejectsOversized(t *testing.T) {
	if _, err := ReadAllStrict(strings.NewReader("hello world"), 5); err == nil {
		t.Fatalf("expected error for oversized body")
	}
}
