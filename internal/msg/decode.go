package msg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"

	"msgvault/api/internal/index"
)

// ErrAttachmentNotFound is returned for an attachment ordinal that does
// not exist in the message.
var ErrAttachmentNotFound = errors.New("attachment not found")

const (
	substgPrefix = "__substg1.0_"
	attachPrefix = "__attach_version1.0_#"
	propsStream  = "__properties_version1.0"
)

// MAPI property ids, as they appear in substream names.
const (
	propSubject     = "0037"
	propSenderName  = "0C1A"
	propSenderAddr  = "0C1F"
	propDisplayBCC  = "0E02"
	propDisplayCC   = "0E03"
	propDisplayTo   = "0E04"
	propBody        = "1000"
	propAttachShort = "3704"
	propAttachLong  = "3707"
)

// Opener provides raw item contents; the collection index implements it.
type Opener interface {
	Open(ctx context.Context, handle index.ItemHandle) (io.ReadCloser, error)
}

// Decoder parses .msg items into Documents. It is stateless and safe for
// concurrent use.
type Decoder struct {
	opener Opener
}

func NewDecoder(opener Opener) *Decoder {
	return &Decoder{opener: opener}
}

// Decode parses one item into a Document. Status and Comments are left at
// their zero values; the extractor merges annotations afterwards.
func (d *Decoder) Decode(ctx context.Context, handle index.ItemHandle) (Document, error) {
	raw, err := d.read(ctx, handle)
	if err != nil {
		return Document{}, err
	}
	return parseDocument(raw, handle)
}

// Attachment decodes one item far enough to extract the bytes of a single
// attachment.
func (d *Decoder) Attachment(ctx context.Context, handle index.ItemHandle, ordinal int) (AttachmentContent, error) {
	if ordinal < 0 {
		return AttachmentContent{}, ErrAttachmentNotFound
	}
	raw, err := d.read(ctx, handle)
	if err != nil {
		return AttachmentContent{}, err
	}

	container, err := mscfb.New(bytes.NewReader(raw))
	if err != nil {
		return AttachmentContent{}, fmt.Errorf("parse %s/%s: %w", handle.Collection, handle.Key, err)
	}

	// Attachment storages are numbered sequentially from zero.
	storage := fmt.Sprintf("%s%08X", attachPrefix, ordinal)
	var content AttachmentContent
	found := false

	for entry, err := container.Next(); err == nil; entry, err = container.Next() {
		if len(entry.Path) != 1 || entry.Path[0] != storage {
			continue
		}
		found = true
		if !strings.HasPrefix(entry.Name, substgPrefix) {
			continue
		}
		tag := strings.TrimPrefix(entry.Name, substgPrefix)
		if len(tag) != 8 {
			continue
		}
		switch {
		case tag[:4] == propAttachLong:
			content.Name = readString(entry, tag[4:])
		case tag[:4] == propAttachShort && content.Name == "":
			content.Name = readString(entry, tag[4:])
		case tag == "37010102":
			data, err := io.ReadAll(entry)
			if err != nil {
				return AttachmentContent{}, fmt.Errorf("read attachment %d of %s: %w", ordinal, handle.Key, err)
			}
			content.Data = data
		}
	}

	if !found || content.Data == nil {
		return AttachmentContent{}, ErrAttachmentNotFound
	}
	content.Type = AttachmentType(content.Name)
	return content, nil
}

func (d *Decoder) read(ctx context.Context, handle index.ItemHandle) ([]byte, error) {
	rc, err := d.opener.Open(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", handle.Collection, handle.Key, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", handle.Collection, handle.Key, err)
	}
	return raw, nil
}

type attachmentMeta struct {
	storage   string
	longName  string
	shortName string
	hasData   bool
}

func parseDocument(raw []byte, handle index.ItemHandle) (Document, error) {
	container, err := mscfb.New(bytes.NewReader(raw))
	if err != nil {
		return Document{}, fmt.Errorf("parse %s/%s: %w", handle.Collection, handle.Key, err)
	}

	var subject, senderName, senderAddr, to, cc, bcc, body string
	var submitTime, deliveryTime time.Time
	attachments := make(map[string]*attachmentMeta)

	for entry, err := container.Next(); err == nil; entry, err = container.Next() {
		switch {
		case len(entry.Path) == 0 && strings.HasPrefix(entry.Name, substgPrefix):
			tag := strings.TrimPrefix(entry.Name, substgPrefix)
			if len(tag) != 8 {
				continue
			}
			id, typ := tag[:4], tag[4:]
			switch id {
			case propSubject:
				subject = readString(entry, typ)
			case propSenderName:
				senderName = readString(entry, typ)
			case propSenderAddr:
				senderAddr = readString(entry, typ)
			case propDisplayTo:
				to = readString(entry, typ)
			case propDisplayCC:
				cc = readString(entry, typ)
			case propDisplayBCC:
				bcc = readString(entry, typ)
			case propBody:
				body = readString(entry, typ)
			}

		case len(entry.Path) == 0 && entry.Name == propsStream:
			data, err := io.ReadAll(entry)
			if err != nil {
				continue
			}
			submitTime, deliveryTime = parseSystimes(data)

		case len(entry.Path) == 1 && strings.HasPrefix(entry.Path[0], attachPrefix):
			meta := attachments[entry.Path[0]]
			if meta == nil {
				meta = &attachmentMeta{storage: entry.Path[0]}
				attachments[entry.Path[0]] = meta
			}
			if !strings.HasPrefix(entry.Name, substgPrefix) {
				continue
			}
			tag := strings.TrimPrefix(entry.Name, substgPrefix)
			if len(tag) != 8 {
				continue
			}
			switch {
			case tag[:4] == propAttachLong:
				meta.longName = readString(entry, tag[4:])
			case tag[:4] == propAttachShort:
				meta.shortName = readString(entry, tag[4:])
			case tag == "37010102":
				meta.hasData = true
			}
		}
	}

	date := deliveryTime
	if date.IsZero() {
		date = submitTime
	}
	if date.IsZero() {
		date = handle.ModTime
	}

	doc := Document{
		ID:             DocumentID(handle.Collection, handle.Key),
		Collection:     handle.Collection,
		Subject:        fallback(subject, "No Subject"),
		Sender:         fallback(senderName, fallback(senderAddr, "Unknown Sender")),
		Recipients:     joinRecipients(to, cc, bcc),
		Date:           date.UTC(),
		Body:           body,
		Filename:       handle.Key,
		ThreadID:       ThreadID(fallback(subject, "No Subject")),
		ContainsThread: ClassifyThread(body),
		Attachments:    []Attachment{},
	}

	// Ordinals follow the storage numbering so listing and fetch agree;
	// attachments without any filename are skipped, their ordinal is not.
	ordered := make([]*attachmentMeta, 0, len(attachments))
	for _, meta := range attachments {
		ordered = append(ordered, meta)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].storage < ordered[j].storage })
	for i, meta := range ordered {
		name := fallback(meta.longName, meta.shortName)
		if name == "" || !meta.hasData {
			continue
		}
		doc.Attachments = append(doc.Attachments, Attachment{
			Name:  name,
			Type:  AttachmentType(name),
			Index: i,
		})
	}

	return doc, nil
}

// parseSystimes scans the fixed-width property stream for the client
// submit time (0x0039) and message delivery time (0x0E06).
func parseSystimes(data []byte) (submit, delivery time.Time) {
	// 32-byte header on the top-level property stream, then 16-byte rows.
	for off := 32; off+16 <= len(data); off += 16 {
		tag := binary.LittleEndian.Uint32(data[off:])
		if uint16(tag) != 0x0040 { // PT_SYSTIME
			continue
		}
		value := binary.LittleEndian.Uint64(data[off+8:])
		switch tag >> 16 {
		case 0x0039:
			submit = filetimeToTime(value)
		case 0x0E06:
			delivery = filetimeToTime(value)
		}
	}
	return submit, delivery
}

// filetimeToTime converts a Windows FILETIME (100ns ticks since 1601) to
// a time.Time.
func filetimeToTime(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	const epochDelta = 11644473600 // seconds between 1601 and 1970
	secs := int64(v/10_000_000) - epochDelta
	nanos := int64(v%10_000_000) * 100
	return time.Unix(secs, nanos).UTC()
}

func readString(r io.Reader, typ string) string {
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	if typ == "001F" {
		return decodeUTF16(data)
	}
	return strings.TrimRight(string(data), "\x00")
}

func decodeUTF16(data []byte) string {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(data[i:]))
	}
	return strings.TrimRight(string(utf16.Decode(units)), "\x00")
}

func joinRecipients(to, cc, bcc string) string {
	var recipients []string
	for _, field := range []string{to, cc, bcc} {
		for _, r := range strings.Split(field, ";") {
			if r = strings.TrimSpace(r); r != "" {
				recipients = append(recipients, r)
			}
		}
	}
	if len(recipients) == 0 {
		return "No Recipients"
	}
	return strings.Join(recipients, ", ")
}

func fallback(value, alt string) string {
	if value == "" {
		return alt
	}
	return value
}
