package ollama

import "fmt"

func buildTranscriptionPrompt(mimeType string) string {
	return fmt.Sprintf(`Transcribe all text visible in this %s image of a medical document.
Keep the reading order, numbers, units and dates exactly as printed.
Return only the transcribed text, no commentary.`, mimeType)
}
