// Package parser decodes raw RFC 5322 messages into InboundEmail records.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"
	"unicode/utf8"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/peppermint-lab/peppermint/internal/email/inbound"
)

const defaultBodyLimit = 4 * 1024 * 1024

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// InboundEmail is the in-memory form of one fetched message.
type InboundEmail struct {
	FromAddress string
	FromName    string
	Subject     string
	MessageID   string
	Date        time.Time
	Text        string
	HTML        string
	TextAsHTML  string
}

// Parser converts raw MIME into InboundEmail.
type Parser struct {
	maxBodyBytes int64
	decoder      *mime.WordDecoder
	stripper     *bluemonday.Policy
}

// Option customizes a Parser.
type Option func(*Parser)

// WithBodyLimit caps how many bytes of each text part are read.
func WithBodyLimit(limit int64) Option {
	return func(p *Parser) {
		if limit > 0 {
			p.maxBodyBytes = limit
		}
	}
}

// New returns a parser with the given options applied.
func New(opts ...Option) *Parser {
	p := &Parser{
		maxBodyBytes: defaultBodyLimit,
		decoder:      &mime.WordDecoder{CharsetReader: htmlcharset.NewReaderLabel},
		stripper:     bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Parse decodes raw. Undecodable MIME structure yields *inbound.ParseError.
func (p *Parser) Parse(raw []byte) (*InboundEmail, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &inbound.ParseError{Err: errors.New("empty message")}
	}
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && reader == nil {
		return nil, &inbound.ParseError{Err: err}
	}
	if err != nil && !gomessage.IsUnknownCharset(err) && !gomessage.IsUnknownEncoding(err) {
		return nil, &inbound.ParseError{Err: err}
	}
	defer reader.Close()

	email := &InboundEmail{}
	p.readHeader(&reader.Header, email)

	if err := p.readBodies(reader, email); err != nil {
		return nil, &inbound.ParseError{Err: err}
	}

	email.sanitize()

	if email.Text == "" && email.HTML != "" {
		email.Text = p.htmlToText(email.HTML)
	}
	if email.Text != "" {
		email.TextAsHTML = TextToHTML(email.Text)
	}
	return email, nil
}

func (p *Parser) readHeader(header *gomail.Header, email *InboundEmail) {
	if list, err := header.AddressList("From"); err == nil && len(list) > 0 {
		email.FromAddress = strings.TrimSpace(list[0].Address)
		email.FromName = strings.TrimSpace(list[0].Name)
	} else if addr, err := stdmail.ParseAddress(p.decodeHeader(header.Get("From"))); err == nil {
		email.FromAddress = strings.TrimSpace(addr.Address)
		email.FromName = strings.TrimSpace(addr.Name)
	} else {
		email.FromAddress = strings.TrimSpace(header.Get("From"))
	}

	if subject, err := header.Subject(); err == nil {
		email.Subject = strings.TrimSpace(subject)
	} else {
		email.Subject = p.decodeHeader(header.Get("Subject"))
	}

	if id, err := header.MessageID(); err == nil {
		email.MessageID = id
	}
	if date, err := header.Date(); err == nil {
		email.Date = date
	}
}

func (p *Parser) readBodies(reader *gomail.Reader, email *InboundEmail) error {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		// unknown charsets and encodings leave the part readable as-is
		if err != nil && (part == nil || !(gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err))) {
			return fmt.Errorf("read part: %w", err)
		}
		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, ctErr := inline.ContentType()
		if ctErr != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		mediaType = strings.ToLower(mediaType)
		if !strings.HasPrefix(mediaType, "text/plain") && !strings.HasPrefix(mediaType, "text/html") {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(part.Body, p.maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read %s body: %w", mediaType, err)
		}
		if int64(len(body)) == p.maxBodyBytes {
			body = trimPartialRune(body)
		}
		switch {
		case strings.HasPrefix(mediaType, "text/html") && email.HTML == "":
			email.HTML = string(body)
		case strings.HasPrefix(mediaType, "text/plain") && email.Text == "":
			email.Text = string(body)
		}
	}
}

// trimPartialRune drops a multi-byte sequence cut off by the body limit.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i]
		}
		break
	}
	return b
}

// sanitize replaces invalid UTF-8 left by undeclared or unknown charsets;
// Postgres text columns reject it.
func (e *InboundEmail) sanitize() {
	for _, field := range []*string{&e.FromAddress, &e.FromName, &e.Subject, &e.MessageID, &e.Text, &e.HTML} {
		*field = strings.ToValidUTF8(*field, "\uFFFD")
	}
}

func (p *Parser) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	decoded, err := p.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
