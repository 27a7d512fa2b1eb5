package keyword

import (
	"reflect"
	"testing"
)

func TestExtractSplitsLowercasesAndStripsExtension(t *testing.T) {
	got := Extract("Chiral-Network_Whitepaper.v2.pdf")
	want := []string{"chiral", "network", "whitepaper"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExtractDropsShortTokens(t *testing.T) {
	got := Extract("a-bb-ccc.txt")
	want := []string{"ccc"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExtractDeduplicates(t *testing.T) {
	got := Extract("test-test-test.txt")
	want := []string{"test"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExtractNoExtension(t *testing.T) {
	got := Extract("README")
	want := []string{"readme"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
