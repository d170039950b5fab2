// Command batchcheck re-transcribes a recorded session's captured audio
// file through AssemblyAI's batch REST API, for reconciling a live
// session's streamed phrase results against an offline re-run of the same
// audio.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/sttcore/session/internal/audio/stt"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: error loading .env file: %v", err)
	}

	audioPath := flag.String("audio", "", "path to the recorded session audio file")
	flag.Parse()

	if *audioPath == "" {
		fmt.Fprintln(os.Stderr, "usage: batchcheck -audio <path>")
		os.Exit(2)
	}

	client := stt.NewSTT()
	text, err := client.TranscribeFile(*audioPath)
	if err != nil {
		log.Fatalf("batchcheck: %v", err)
	}

	fmt.Println(text)
}
