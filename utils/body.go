package utils

import (
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

var (
	newlinePattern    = regexp.MustCompile(`\r?\n`)
	attributionLine   = regexp.MustCompile(`^On\s.*\bwrote:\s*$`)
	quoteMarkerPrefix = ">"
)

// StripQuotedReply cuts the body at the first quoted line or "On ... wrote:"
// attribution. That line and everything after it are dropped.
func StripQuotedReply(body string) string {
	if body == "" {
		return body
	}

	lines := newlinePattern.Split(body, -1)
	for i, line := range lines {
		if strings.HasPrefix(line, quoteMarkerPrefix) || attributionLine.MatchString(line) {
			lines = lines[:i]
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// MessageText returns the normalised plain-text body of a parsed message.
func MessageText(m *mail.Message) (string, error) {
	text, _, err := extractEntity(
		m.Header.Get("Content-Type"),
		m.Header.Get("Content-Transfer-Encoding"),
		m.Body,
	)
	if err != nil {
		return "", err
	}
	return StripQuotedReply(text), nil
}

type partKind int

const (
	partNone partKind = iota
	partHTML
	partPlain
)

// extractEntity returns the text of one MIME entity. A plain-text part
// anywhere in a multipart tree ends the walk; an HTML part is only used when
// no plain-text part exists.
func extractEntity(contentType, encoding string, r io.Reader) (string, partKind, error) {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Unparseable Content-Type is treated as plain text, as mail readers do.
		mediaType, params = "text/plain", map[string]string{}
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		return extractMultipart(params["boundary"], r)

	case mediaType == "text/plain":
		text, err := readText(encoding, params["charset"], r)
		return text, partPlain, err

	case mediaType == "text/html":
		text, err := readText(encoding, params["charset"], r)
		if err != nil {
			return "", partNone, err
		}
		return HTMLToText(text), partHTML, nil
	}

	return "", partNone, nil
}

func extractMultipart(boundary string, r io.Reader) (string, partKind, error) {
	if boundary == "" {
		return "", partNone, nil
	}

	var htmlText string
	found := partNone

	mr := multipart.NewReader(r, boundary)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if found == partHTML {
				return htmlText, found, nil
			}
			return "", partNone, err
		}

		if p.Header.Get("Content-Disposition") != "" {
			disposition, _, _ := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
			if disposition == "attachment" {
				continue
			}
		}

		text, kind, err := extractEntity(
			p.Header.Get("Content-Type"),
			p.Header.Get("Content-Transfer-Encoding"),
			p,
		)
		if err != nil {
			Log.Debug("Skipping unreadable MIME part: %v", err)
			continue
		}

		switch kind {
		case partPlain:
			return text, partPlain, nil
		case partHTML:
			if found == partNone {
				htmlText, found = text, partHTML
			}
		}
	}

	return htmlText, found, nil
}

// readText decodes the transfer encoding and charset of a text part.
func readText(encoding, charset string, r io.Reader) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc, err := htmlindex.Get(charset); err == nil {
			r = enc.NewDecoder().Reader(r)
		} else {
			Log.Debug("Unknown charset %q, reading raw bytes", charset)
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var headerDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, err
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

// DecodeHeader expands RFC 2047 encoded words. Undecodable input is returned
// unchanged.
func DecodeHeader(value string) string {
	decoded, err := headerDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
