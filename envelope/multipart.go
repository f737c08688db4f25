package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"time"

	"github.com/alsocoders/sockress/errors"
)

// File is an uploaded file held in memory. Both transports decode into this
// representation so handler code never cares which one carried the upload.
// Persistence is the host application's concern.
type File struct {
	// FieldName is the form field the file was submitted under.
	FieldName string

	// Name is the client-supplied file name.
	Name string

	// ContentType is the declared MIME type of the file contents.
	ContentType string

	// Size is the byte length of Data.
	Size int64

	// Data holds the full file contents.
	Data []byte

	// LastModified is the client-reported modification time, zero if absent.
	LastModified time.Time
}

// Form is the decoded multipart payload: scalar fields plus files in their
// original submission order. The primary file is the first file of the first
// field in that order.
type Form struct {
	Fields url.Values
	Files  []*File
}

// PrimaryFile returns the first uploaded file in submission order, or nil.
func (f *Form) PrimaryFile() *File {
	if len(f.Files) == 0 {
		return nil
	}
	return f.Files[0]
}

// FilesFor returns the files submitted under the named field, in order.
func (f *Form) FilesFor(field string) []*File {
	var out []*File
	for _, file := range f.Files {
		if file.FieldName == field {
			out = append(out, file)
		}
	}
	return out
}

// filePayload is the wire shape of one file inside the socket multipart
// envelope body.
type filePayload struct {
	FieldName    string `json:"fieldName,omitempty"`
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Data         string `json:"data"`
	LastModified int64  `json:"lastModified,omitempty"` // unix milliseconds
}

// DecodeForm parses the socket multipart envelope body:
//
//	{"fields": {...}, "files": {"<field>": [{name, type, size, data}, ...]}}
//
// The files object is decoded at the token level so field order on the wire
// is preserved — JSON maps would lose it, and the primary-file rule depends
// on it.
func DecodeForm(raw json.RawMessage) (*Form, error) {
	form := &Form{Fields: url.Values{}}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, errors.WrapInvalid(err, "Multipart", "DecodeForm", "parse payload object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errors.WrapInvalid(err, "Multipart", "DecodeForm", "read payload key")
		}
		key, _ := keyTok.(string)

		switch key {
		case "fields":
			var fields map[string]json.RawMessage
			if err := dec.Decode(&fields); err != nil {
				return nil, errors.WrapInvalid(err, "Multipart", "DecodeForm", "parse fields")
			}
			for name, val := range fields {
				var s string
				if err := json.Unmarshal(val, &s); err == nil {
					form.Fields.Add(name, s)
					continue
				}
				var list []string
				if err := json.Unmarshal(val, &list); err != nil {
					return nil, errors.WrapInvalid(
						fmt.Errorf("field %q: value must be string or string array", name),
						"Multipart", "DecodeForm", "parse fields")
				}
				for _, v := range list {
					form.Fields.Add(name, v)
				}
			}

		case "files":
			if err := decodeFileGroups(dec, form); err != nil {
				return nil, err
			}

		default:
			// Unknown keys are skipped for forward compatibility.
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, errors.WrapInvalid(err, "Multipart", "DecodeForm", "skip unknown key")
			}
		}
	}

	return form, nil
}

// decodeFileGroups walks the files object token by token, preserving the
// order fields appear on the wire.
func decodeFileGroups(dec *json.Decoder, form *Form) error {
	if err := expectDelim(dec, '{'); err != nil {
		return errors.WrapInvalid(err, "Multipart", "decodeFileGroups", "parse files object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return errors.WrapInvalid(err, "Multipart", "decodeFileGroups", "read field name")
		}
		fieldName, _ := keyTok.(string)

		var payloads []filePayload
		if err := dec.Decode(&payloads); err != nil {
			return errors.WrapInvalid(err, "Multipart", "decodeFileGroups",
				fmt.Sprintf("parse files for field %q", fieldName))
		}

		for _, p := range payloads {
			data, err := base64.StdEncoding.DecodeString(p.Data)
			if err != nil {
				return errors.WrapInvalid(err, "Multipart", "decodeFileGroups",
					fmt.Sprintf("decode file data for %q", p.Name))
			}

			file := &File{
				FieldName:   fieldName,
				Name:        p.Name,
				ContentType: p.Type,
				Size:        int64(len(data)),
				Data:        data,
			}
			if p.FieldName != "" {
				file.FieldName = p.FieldName
			}
			if p.LastModified > 0 {
				file.LastModified = time.UnixMilli(p.LastModified)
			}
			form.Files = append(form.Files, file)
		}
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return errors.WrapInvalid(err, "Multipart", "decodeFileGroups", "close files object")
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// EncodeForm serializes a Form into the socket multipart envelope body,
// grouping files by field in first-appearance order.
func EncodeForm(form *Form) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"fields":`)

	fields, err := json.Marshal(flattenFields(form.Fields))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Multipart", "EncodeForm", "marshal fields")
	}
	buf.Write(fields)

	buf.WriteString(`,"files":{`)
	var order []string
	grouped := map[string][]*File{}
	for _, file := range form.Files {
		if _, seen := grouped[file.FieldName]; !seen {
			order = append(order, file.FieldName)
		}
		grouped[file.FieldName] = append(grouped[file.FieldName], file)
	}

	for i, fieldName := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(fieldName)
		buf.Write(key)
		buf.WriteByte(':')

		payloads := make([]filePayload, 0, len(grouped[fieldName]))
		for _, file := range grouped[fieldName] {
			p := filePayload{
				Name: file.Name,
				Type: file.ContentType,
				Size: file.Size,
				Data: base64.StdEncoding.EncodeToString(file.Data),
			}
			if !file.LastModified.IsZero() {
				p.LastModified = file.LastModified.UnixMilli()
			}
			payloads = append(payloads, p)
		}
		entry, err := json.Marshal(payloads)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Multipart", "EncodeForm",
				fmt.Sprintf("marshal files for field %q", fieldName))
		}
		buf.Write(entry)
	}
	buf.WriteString("}}")

	return buf.Bytes(), nil
}

// flattenFields collapses single-valued fields to plain strings so simple
// forms stay simple on the wire.
func flattenFields(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 1 {
			out[key] = vals[0]
		} else {
			out[key] = vals
		}
	}
	return out
}

// ParseMultipartBody parses a native HTTP multipart body into the same Form
// representation the socket path produces. The content type must carry the
// boundary parameter; files are buffered whole in memory.
func ParseMultipartBody(contentType string, body io.Reader) (*Form, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Multipart", "ParseMultipartBody", "parse content type")
	}
	if mediaType != ContentTypeMultipart {
		return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope, "Multipart", "ParseMultipartBody",
			fmt.Sprintf("unexpected media type %q", mediaType))
	}
	boundary, ok := params["boundary"]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope, "Multipart", "ParseMultipartBody",
			"missing multipart boundary")
	}

	form := &Form{Fields: url.Values{}}
	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapInvalid(err, "Multipart", "ParseMultipartBody", "read part")
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, errors.WrapInvalid(err, "Multipart", "ParseMultipartBody", "read part data")
		}

		if part.FileName() == "" {
			form.Fields.Add(part.FormName(), string(data))
			continue
		}

		form.Files = append(form.Files, &File{
			FieldName:   part.FormName(),
			Name:        part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Size:        int64(len(data)),
			Data:        data,
		})
	}

	return form, nil
}

// WriteMultipartBody writes a Form as a native HTTP multipart body and
// returns the content type including the generated boundary. This is the
// client's HTTP encoding of the same payload EncodeForm puts on the socket.
func WriteMultipartBody(form *Form, w io.Writer) (string, error) {
	mw := multipart.NewWriter(w)

	for key, vals := range form.Fields {
		for _, val := range vals {
			if err := mw.WriteField(key, val); err != nil {
				return "", errors.WrapInvalid(err, "Multipart", "WriteMultipartBody",
					fmt.Sprintf("write field %q", key))
			}
		}
	}

	for _, file := range form.Files {
		// CreateFormFile would hardcode application/octet-stream; the
		// declared type must survive the transport.
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, file.FieldName, file.Name))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)

		part, err := mw.CreatePart(header)
		if err != nil {
			return "", errors.WrapInvalid(err, "Multipart", "WriteMultipartBody",
				fmt.Sprintf("create part for %q", file.Name))
		}
		if _, err := part.Write(file.Data); err != nil {
			return "", errors.WrapInvalid(err, "Multipart", "WriteMultipartBody",
				fmt.Sprintf("write data for %q", file.Name))
		}
	}

	if err := mw.Close(); err != nil {
		return "", errors.WrapInvalid(err, "Multipart", "WriteMultipartBody", "finalize body")
	}
	return mw.FormDataContentType(), nil
}
