// Command mock-upstreams serves fake Prometheus and KServe endpoints so the
// engine can be exercised locally without a cluster. Range queries return a
// dense sine-shaped series; :predict scores every instance 0.87.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func main() {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/query_range", func(w http.ResponseWriter, r *http.Request) {
		start, err1 := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
		end, err2 := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)
		step, err3 := strconv.ParseInt(r.URL.Query().Get("step"), 10, 64)
		if err1 != nil || err2 != nil || err3 != nil || step <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		values := make([][2]any, 0, (end-start)/step+1)
		for ts := start; ts <= end; ts += step {
			v := 50 + 40*math.Sin(float64(ts)/7200)
			values = append(values, [2]any{float64(ts), fmt.Sprintf("%.4f", v)})
		}
		writeJSON(w, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "matrix",
				"result": []map[string]any{
					{"metric": map[string]string{}, "values": values},
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "vector",
				"result": []map[string]any{
					{"metric": map[string]string{}, "value": [2]any{float64(time.Now().Unix()), "1"}},
				},
			},
		})
	})

	// KServe V1: GET /v1/models/{name} for readiness, POST ...:predict.
	mux.HandleFunc("/v1/models/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/v1/models/")
		if strings.HasSuffix(name, ":predict") {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			var payload struct {
				Instances []json.RawMessage `json:"instances"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				writeJSON(w, map[string]any{"error": "invalid request body"})
				return
			}
			scores := make([]float64, len(payload.Instances))
			for i := range scores {
				scores[i] = 0.87
			}
			writeJSON(w, map[string]any{"predictions": scores})
			return
		}
		writeJSON(w, map[string]any{"name": name, "ready": true})
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	logger := log.New(log.Writer(), "mock-upstreams ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
