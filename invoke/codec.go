package invoke

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	cbus "github.com/next-trace/scg-service-admin/contract/bus"
	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// Codec decodes invocation payloads and encodes implementation output for one data format.
type Codec interface {
	Format() cbus.DataFormat
	Decode(raw []byte, transport cbus.Transport) (any, error)
	Encode(v any) ([]byte, error)
}

var codecs = map[cbus.DataFormat]Codec{
	cbus.FormatJSON: jsonCodec{},
	cbus.FormatXML:  xmlCodec{},
	cbus.FormatText: textCodec{},
}

// CodecFor returns the codec of format. The empty format selects text.
func CodecFor(format cbus.DataFormat) (Codec, error) {
	if format == "" {
		format = cbus.FormatText
	}

	c, ok := codecs[format]
	if !ok {
		return nil, fmt.Errorf("data format %q: %w", format, berr.ErrBadRequest)
	}

	return c, nil
}

type jsonCodec struct{}

func (jsonCodec) Format() cbus.DataFormat { return cbus.FormatJSON }

// Decode yields the generic JSON value; numbers stay json.Number.
func (jsonCodec) Decode(raw []byte, _ cbus.Transport) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}

	return v, nil
}

func (jsonCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

// Node is a generic XML element tree.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []Node     `xml:",any"`
}

// Child returns the first direct child with the given local name.
func (n *Node) Child(local string) (*Node, bool) {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == local {
			return &n.Children[i], true
		}
	}

	return nil, false
}

type xmlCodec struct{}

func (xmlCodec) Format() cbus.DataFormat { return cbus.FormatXML }

// Decode parses the document into a Node. Over the soap transport the first
// element inside the envelope's Body is returned instead of the envelope.
func (xmlCodec) Decode(raw []byte, transport cbus.Transport) (any, error) {
	var root Node
	if err := xml.Unmarshal(raw, &root); err != nil {
		return nil, err
	}

	if transport != cbus.TransportSOAP {
		return &root, nil
	}

	if root.XMLName.Local != "Envelope" {
		return nil, fmt.Errorf("soap: root element is %q, not Envelope", root.XMLName.Local)
	}

	body, ok := root.Child("Body")
	if !ok || len(body.Children) == 0 {
		return nil, errors.New("soap: empty or missing Body")
	}

	return &body.Children[0], nil
}

func (xmlCodec) Encode(v any) ([]byte, error) { return xml.Marshal(v) }

type textCodec struct{}

func (textCodec) Format() cbus.DataFormat { return cbus.FormatText }

func (textCodec) Decode(raw []byte, _ cbus.Transport) (any, error) { return string(raw), nil }

func (textCodec) Encode(v any) ([]byte, error) {
	if s, ok := v.(fmt.Stringer); ok {
		return []byte(s.String()), nil
	}

	return fmt.Appendf(nil, "%v", v), nil
}
