package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("智能质检系统方案", 4); got != "智能质检..." {
		t.Errorf("multi-byte truncate: got %s", got)
	}
}

func TestHeadTail(t *testing.T) {
	if got := Head("边缘计算平台", 2); got != "边缘" {
		t.Errorf("Head: got %s", got)
	}
	if got := Tail("边缘计算平台", 2); got != "平台" {
		t.Errorf("Tail: got %s", got)
	}
	if got := Tail("abc", 10); got != "abc" {
		t.Errorf("Tail longer than input: got %s", got)
	}
	if Head("abc", 0) != "" || Tail("abc", 0) != "" {
		t.Error("zero length should return empty")
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := CollapseWhitespace("  a \n\n b\t c  "); got != "a b c" {
		t.Errorf("got %q", got)
	}
}
