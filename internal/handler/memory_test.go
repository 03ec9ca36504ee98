package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMemoryWrite_ThenList(t *testing.T) {
	d := newTestDeps()

	writeBody, _ := json.Marshal(map[string]string{
		"session_id":  "s1",
		"memory_type": "preference",
		"content":     "prefers dark compression on vocals",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/memory", bytes.NewReader(writeBody))
	rec := httptest.NewRecorder()
	MemoryWrite(d.memory, d.orchEmbedder()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("write status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var written memoryEntryResponse
	json.Unmarshal(rec.Body.Bytes(), &written)
	if written.SessionID != "s1" || written.Type != "preference" {
		t.Fatalf("written = %+v, want session s1 type preference", written)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/memory?session_id=s1", nil)
	listRec := httptest.NewRecorder()
	MemoryList(d.memory).ServeHTTP(listRec, listReq)

	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", listRec.Code, http.StatusOK)
	}
	var entries []memoryEntryResponse
	json.Unmarshal(listRec.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].Content != "prefers dark compression on vocals" {
		t.Fatalf("entries = %+v, want one matching entry", entries)
	}
}

func TestMemoryWrite_InvalidType_Returns422(t *testing.T) {
	d := newTestDeps()
	body, _ := json.Marshal(map[string]string{"session_id": "s1", "memory_type": "bogus", "content": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/memory", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	MemoryWrite(d.memory, d.orchEmbedder()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestMemoryWrite_MissingContent_Returns422(t *testing.T) {
	d := newTestDeps()
	body, _ := json.Marshal(map[string]string{"session_id": "s1", "memory_type": "context"})
	req := httptest.NewRequest(http.MethodPost, "/api/memory", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	MemoryWrite(d.memory, d.orchEmbedder()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestMemoryList_MissingSessionID_Returns422(t *testing.T) {
	d := newTestDeps()
	req := httptest.NewRequest(http.MethodGet, "/api/memory", nil)
	rec := httptest.NewRecorder()

	MemoryList(d.memory).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestMemoryList_EmptySession_ReturnsEmptyList(t *testing.T) {
	d := newTestDeps()
	req := httptest.NewRequest(http.MethodGet, "/api/memory?session_id=nobody", nil)
	rec := httptest.NewRecorder()

	MemoryList(d.memory).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var entries []memoryEntryResponse
	json.Unmarshal(rec.Body.Bytes(), &entries)
	if len(entries) != 0 {
		t.Fatalf("entries = %+v, want empty", entries)
	}
}
