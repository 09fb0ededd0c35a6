package handler

import (
	"context"
	"os/exec"
	"reflect"
	"testing"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("handler:exec_test - sh not available")
	}
}

func TestExecLeaf_StreamsLines(t *testing.T) {
	requireShell(t)

	leaf := &Leaf{Name: "lines", Kind: KindExec, Exec: []string{"sh", "-c", `cat >/dev/null; echo '{"n":1}'; echo; echo plain; echo 2`}}
	res, err := leaf.Invoke(&Call{Context: context.Background(), Entry: []string{"lines"}})
	if err != nil {
		t.Fatalf("handler:exec_test - invoke failed: %v", err)
	}
	s, ok := AsStream(res)
	if !ok {
		t.Fatal("handler:exec_test - expected stream")
	}
	got, err := Collect(s)
	if err != nil {
		t.Fatalf("handler:exec_test - collect failed: %v", err)
	}
	want := []any{map[string]any{"n": 1.0}, "plain", 2.0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("handler:exec_test - expected %v, got %v", want, got)
	}
}

func TestExecLeaf_ReceivesArgs(t *testing.T) {
	requireShell(t)

	leaf := &Leaf{Name: "cat", Kind: KindExec, Exec: []string{"sh", "-c", "cat; echo"}}
	res, _ := leaf.Invoke(&Call{Context: context.Background(), Entry: []string{"cat"}, Args: []any{"x"}})
	s, _ := AsStream(res)
	got, err := Collect(s)
	if err != nil {
		t.Fatalf("handler:exec_test - collect failed: %v", err)
	}
	want := []any{map[string]any{"entry": []any{"cat"}, "args": []any{"x"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("handler:exec_test - expected %v, got %v", want, got)
	}
}

func TestExecLeaf_NonZeroExit(t *testing.T) {
	requireShell(t)

	leaf := &Leaf{Name: "bad", Kind: KindExec, Exec: []string{"sh", "-c", "cat >/dev/null; echo 1; echo oops >&2; exit 3"}}
	res, _ := leaf.Invoke(&Call{Context: context.Background()})
	s, _ := AsStream(res)
	got, err := Collect(s)
	if err == nil {
		t.Fatal("handler:exec_test - expected error for non-zero exit")
	}
	if len(got) != 1 {
		t.Errorf("handler:exec_test - expected the item before failure, got %v", got)
	}
}

func TestExecLeaf_NoCommand(t *testing.T) {
	leaf := &Leaf{Name: "empty", Kind: KindExec}
	res, _ := leaf.Invoke(&Call{Context: context.Background()})
	s, _ := AsStream(res)
	if _, err := Collect(s); err == nil {
		t.Error("handler:exec_test - expected error for leaf without command")
	}
}
