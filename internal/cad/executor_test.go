package cad

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExecute_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"statusCode": 200,
			"body": {
				"stl_url": "https://files.example.com/a.stl",
				"svg_url": "https://files.example.com/a.svg",
				"stp_url": "https://files.example.com/a.stp"
			}
		}`))
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, 5*time.Second)
	res, err := e.Execute(context.Background(), "import cadquery as cq")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.StlURL != "https://files.example.com/a.stl" ||
		res.SvgURL != "https://files.example.com/a.svg" ||
		res.StpURL != "https://files.example.com/a.stp" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecute_ExecutorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"statusCode": 500,
			"body": {
				"error": "CadQuery execution failed",
				"detail": "NameError: name 'cq' is not defined",
				"trace": "Traceback (most recent call last): ..."
			}
		}`))
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, 5*time.Second)
	_, err := e.Execute(context.Background(), "result = box")
	if err == nil {
		t.Fatalf("expected error")
	}

	var ee *ExecError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExecError, got %T: %v", err, err)
	}
	if ee.StatusCode != 500 {
		t.Fatalf("expected statusCode 500, got %d", ee.StatusCode)
	}
	if ee.Message != "CadQuery execution failed" {
		t.Fatalf("unexpected message: %q", ee.Message)
	}
	if ee.Detail == "" || ee.Trace == "" {
		t.Fatalf("expected detail and trace to be preserved: %+v", ee)
	}
}

func TestExecute_MissingArtifactURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"statusCode": 200,
			"body": {"stl_url": "https://files.example.com/a.stl"}
		}`))
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, 5*time.Second)
	if _, err := e.Execute(context.Background(), "import cadquery as cq"); err == nil {
		t.Fatalf("expected error for partial artifact set")
	}
}

func TestExecute_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, 5*time.Second)
	_, err := e.Execute(context.Background(), "import cadquery as cq")
	if err == nil {
		t.Fatalf("expected error")
	}
	var ee *ExecError
	if errors.As(err, &ee) {
		t.Fatalf("transport failure should not be an *ExecError: %v", err)
	}
}

func TestExecute_EmptySource(t *testing.T) {
	e := NewExecutor("http://127.0.0.1:0", time.Second)
	if _, err := e.Execute(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty source")
	}
}
