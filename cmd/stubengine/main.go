// Command stubengine is a development stand-in for the transcription and
// diarization inference servers. It accepts the same multipart requests the
// service sends and answers with canned segments, so the full pipeline can be
// exercised without a GPU.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

type segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence"`
}

type transcribeResponse struct {
	Segments []segment `json:"segments"`
	Language string    `json:"language"`
}

type diarizeResponse struct {
	Segments []segment `json:"segments"`
	Speakers []string  `json:"speakers"`
}

var processingDelay = flag.Duration("delay", 200*time.Millisecond, "Simulated inference time per request")

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = "en"
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("transcribe request: file=%s size=%d language=%s model=%s",
		header.Filename, len(audioData), language, r.FormValue("model"))

	time.Sleep(*processingDelay)

	response := transcribeResponse{
		Segments: []segment{
			{Start: 0.0, End: 1.2, Text: "this is a stub transcription", Confidence: 0.95},
		},
		Language: language,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func diarizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	var segments []segment
	if err := json.Unmarshal([]byte(r.FormValue("segments")), &segments); err != nil {
		http.Error(w, "Error parsing segments", http.StatusBadRequest)
		return
	}

	log.Printf("diarize request: segments=%d", len(segments))

	time.Sleep(*processingDelay)

	// Label every segment with one fake speaker
	for i := range segments {
		segments[i].Speaker = "SPEAKER_00"
	}

	response := diarizeResponse{
		Segments: segments,
		Speakers: []string{"SPEAKER_00"},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func main() {
	port := flag.Int("port", 8081, "Port to listen on")
	flag.Parse()

	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/transcribe", transcribeHandler)
	http.HandleFunc("/diarize", diarizeHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("stub engine listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
