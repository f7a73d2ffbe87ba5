package main

import (
	"path"
	"strings"
)

type ContentType string

const (
	ContentTypeBinary ContentType = "application/octet-stream"
	ContentTypeText   ContentType = "text/plain"
	ContentTypeHTML   ContentType = "text/html"
	ContentTypeJS     ContentType = "text/javascript"
	ContentTypeCSS    ContentType = "text/css"
	ContentTypeJSON   ContentType = "application/json"
	ContentTypePNG    ContentType = "image/png"
	ContentTypeJPEG   ContentType = "image/jpeg"
	ContentTypeGIF    ContentType = "image/gif"
	ContentTypeSVG    ContentType = "image/svg+xml"
	ContentTypeAPNG   ContentType = "image/apng"
	ContentTypeWEBP   ContentType = "image/webp"
	ContentTypeBMP    ContentType = "image/bmp"
	ContentTypeICO    ContentType = "image/x-icon"
	ContentTypeXML    ContentType = "application/xml"
	ContentTypePDF    ContentType = "application/pdf"
	ContentTypeZIP    ContentType = "application/zip"
)

var contentTypeByExtension = map[string]ContentType{
	".bin":  ContentTypeBinary,
	".txt":  ContentTypeText,
	".html": ContentTypeHTML,
	".js":   ContentTypeJS,
	".mjs":  ContentTypeJS,
	".cjs":  ContentTypeJS,
	".css":  ContentTypeCSS,
	".json": ContentTypeJSON,
	".png":  ContentTypePNG,
	".jpg":  ContentTypeJPEG,
	".jpeg": ContentTypeJPEG,
	".gif":  ContentTypeGIF,
	".svg":  ContentTypeSVG,
	".apng": ContentTypeAPNG,
	".webp": ContentTypeWEBP,
	".bmp":  ContentTypeBMP,
	".ico":  ContentTypeICO,
	".xml":  ContentTypeXML,
	".pdf":  ContentTypePDF,
	".zip":  ContentTypeZIP,
}

// ContentTypeByPath falls back to text/plain for unknown extensions.
func ContentTypeByPath(filePath string) ContentType {
	contentType, ok := contentTypeByExtension[strings.ToLower(path.Ext(filePath))]
	if !ok {
		return ContentTypeText
	}
	return contentType
}

// Header is the Content-Type header value, text types carry a charset.
func (c ContentType) Header() string {
	switch c {
	case ContentTypeText, ContentTypeHTML, ContentTypeJS, ContentTypeCSS:
		return string(c) + "; charset=utf-8"
	}
	return string(c)
}
