package app

import (
	"log"
	"mime"
)

// Minimal container images ship without /etc/mime.types, which breaks
// Content-Type detection for the embedded static assets.
func init() {
	ensureMimeType(".css", "text/css; charset=utf-8")
	ensureMimeType(".js", "text/javascript; charset=utf-8")
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("app: register MIME type %s: %v", ext, err)
	}
}
