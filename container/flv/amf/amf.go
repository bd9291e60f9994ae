/*
NAME
  amf.go

DESCRIPTION
  Action Message Format (AMF0) encoding/decoding functions.
  See https://en.wikipedia.org/wiki/Action_Message_Format.

AUTHORS
  Saxon Nelson-Milton <saxon@ausocean.org>
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/


// Package amf implements Action Message Format (AMF0) encoding and decoding
// as used by FLV script data tags. Encoding of numbers is big endian, and
// numbers are all unsigned unless specified otherwise.
// See https://en.wikipedia.org/wiki/Action_Message_Format.
package amf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AMF data types, as defined by the AMF specification.
// NB: we export these sparingly; the reserved types stay internal.
const (
	TypeNumber      = 0x00
	TypeBoolean     = 0x01
	TypeString      = 0x02
	TypeObject      = 0x03
	typeMovieClip   = 0x04 // Reserved, not supported.
	TypeNull        = 0x05
	TypeUndefined   = 0x06
	typeReference   = 0x07
	TypeEcmaArray   = 0x08
	TypeObjectEnd   = 0x09
	TypeStrictArray = 0x0A
	typeDate        = 0x0B
	typeLongString  = 0x0C
	typeUnsupported = 0x0D
	typeRecordset   = 0x0E // Reserved, not supported.
	typeXmlDoc      = 0x0F
	typeTypedObject = 0x10
	typeSwitchAMF3  = 0x11
)

// AMF errors:
var (
	ErrShortBuffer       = errors.New("amf: short buffer")            // The input ended before the value did.
	ErrInvalidType       = errors.New("amf: invalid type")            // An invalid type was supplied to the encoder.
	ErrUnexpectedType    = errors.New("amf: unexpected type")         // An unexpected type was encountered while decoding.
	ErrExpectedObjectEnd = errors.New("amf: expected object end")     // An object's empty key was not followed by the end marker.
	ErrUnsupportedAMF3   = errors.New("amf: unsupported AMF3 data")   // The stream switched to AMF3, which we do not decode.
	ErrLengthOverflow    = errors.New("amf: string length overflow")  // A string or key exceeded 16-bit length.
	ErrPropertyNotFound  = errors.New("amf: property not found")      // The requested property was not found.
)

// Object represents an AMF object, which is simply an ordered collection of
// properties. Insertion order is preserved and duplicate names are retained,
// as the wire format permits both.
type Object struct {
	Properties []Property
}

// Property represents an AMF property, which is effectively a
// union. The Type is the AMF data type (uint8 per the specification),
// and specifies which member holds a value. Numeric and boolean types
// use Number, string types use String, and arrays and objects use
// Object. The Name is set for object and ECMA array members and empty
// elsewhere.
type Property struct {
	Type uint8

	Name   string
	Number float64
	String string
	Object Object
}

// Encoder appends the AMF0 representation of values to a growing buffer.
type Encoder struct {
	buf []byte
}

// Bytes returns the encoded buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Clear discards the encoded buffer contents.
func (e *Encoder) Clear() { e.buf = e.buf[:0] }

// EncodeNumber appends a Number. The on-wire representation is the IEEE-754
// bits in big-endian order regardless of host order.
func (e *Encoder) EncodeNumber(n float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(n))
	e.buf = append(e.buf, TypeNumber)
	e.buf = append(e.buf, b[:]...)
}

// EncodeInt appends an integer, widened to a Number.
func (e *Encoder) EncodeInt(n int) { e.EncodeNumber(float64(n)) }

// EncodeBoolean appends a Boolean.
func (e *Encoder) EncodeBoolean(v bool) {
	b := byte(0)
	if v {
		b = 1
	}
	e.buf = append(e.buf, TypeBoolean, b)
}

// EncodeString appends a String. An empty string is encoded as a bare Null
// marker, matching the writer this package interoperates with. Strings longer
// than 65535 bytes cannot be represented and return ErrLengthOverflow.
func (e *Encoder) EncodeString(s string) error {
	if s == "" {
		e.EncodeNull()
		return nil
	}
	if len(s) > 0xffff {
		return ErrLengthOverflow
	}
	e.buf = append(e.buf, TypeString, byte(len(s)>>8), byte(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

// EncodeNull appends a Null marker.
func (e *Encoder) EncodeNull() { e.buf = append(e.buf, TypeNull) }

// EncodeUndefined appends an Undefined marker.
func (e *Encoder) EncodeUndefined() { e.buf = append(e.buf, TypeUndefined) }

// EncodeObject appends an Object: the object marker, each named property, and
// the empty key followed by the object end marker.
func (e *Encoder) EncodeObject(obj *Object) error {
	e.buf = append(e.buf, TypeObject)
	err := e.encodeProperties(obj)
	if err != nil {
		return err
	}
	e.buf = append(e.buf, 0x00, 0x00, TypeObjectEnd)
	return nil
}

// EncodeEcmaArray appends an ECMA array. The entry count is advisory for
// readers, but we emit the true count to satisfy strict ones.
func (e *Encoder) EncodeEcmaArray(obj *Object) error {
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(obj.Properties)))
	e.buf = append(e.buf, TypeEcmaArray)
	e.buf = append(e.buf, count[:]...)
	err := e.encodeProperties(obj)
	if err != nil {
		return err
	}
	e.buf = append(e.buf, 0x00, 0x00, TypeObjectEnd)
	return nil
}

// EncodeStrictArray appends a strict array: the count and then the values,
// with no trailing end marker.
func (e *Encoder) EncodeStrictArray(obj *Object) error {
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(obj.Properties)))
	e.buf = append(e.buf, TypeStrictArray)
	e.buf = append(e.buf, count[:]...)
	for i := range obj.Properties {
		err := e.EncodeProperty(&obj.Properties[i])
		if err != nil {
			return err
		}
	}
	return nil
}

// EncodeProperty appends a single value. The property's Name is not written;
// names are written by the enclosing object or ECMA array.
func (e *Encoder) EncodeProperty(p *Property) error {
	switch p.Type {
	case TypeNumber:
		e.EncodeNumber(p.Number)
	case TypeBoolean:
		e.EncodeBoolean(p.Number != 0)
	case TypeString:
		return e.EncodeString(p.String)
	case TypeNull:
		e.EncodeNull()
	case TypeUndefined:
		e.EncodeUndefined()
	case TypeObject:
		return e.EncodeObject(&p.Object)
	case TypeEcmaArray:
		return e.EncodeEcmaArray(&p.Object)
	case TypeStrictArray:
		return e.EncodeStrictArray(&p.Object)
	default:
		return ErrInvalidType
	}
	return nil
}

func (e *Encoder) encodeKey(key string) error {
	if len(key) > 0xffff {
		return ErrLengthOverflow
	}
	e.buf = append(e.buf, byte(len(key)>>8), byte(len(key)))
	e.buf = append(e.buf, key...)
	return nil
}

func (e *Encoder) encodeProperties(obj *Object) error {
	for i := range obj.Properties {
		p := &obj.Properties[i]
		err := e.encodeKey(p.Name)
		if err != nil {
			return err
		}
		err = e.EncodeProperty(p)
		if err != nil {
			return err
		}
	}
	return nil
}

// Decoder decodes AMF values from an immutable input slice using a cursor.
// A version of 0 selects AMF0; the decoder switches itself to version 3 on
// encountering the AMF3 switch marker, after which Decode reports any further
// value as ErrUnsupportedAMF3; Int still decodes AMF3 U29 integers.
type Decoder struct {
	buf     []byte
	pos     int
	version int
}

// NewDecoder returns a decoder over buf starting in the given AMF version,
// usually 0.
func NewDecoder(buf []byte, version int) *Decoder {
	return &Decoder{buf: buf, version: version}
}

// Decode decodes the next value from the input.
func (d *Decoder) Decode() (Property, error) {
	m, err := d.front()
	if err != nil {
		return Property{}, err
	}
	if d.version == 0 && m == typeSwitchAMF3 {
		d.pos++
		d.version = 3
	}
	if d.version == 3 {
		if d.pos >= len(d.buf) {
			return Property{}, ErrShortBuffer
		}
		return Property{}, ErrUnsupportedAMF3
	}

	switch m {
	case TypeNumber:
		n, err := d.decodeNumber()
		return Property{Type: TypeNumber, Number: n}, err
	case TypeBoolean:
		v, err := d.decodeBoolean()
		var n float64
		if v {
			n = 1
		}
		return Property{Type: TypeBoolean, Number: n}, err
	case TypeString:
		s, err := d.decodeString()
		return Property{Type: TypeString, String: s}, err
	case TypeNull:
		d.pos++
		return Property{Type: TypeNull}, nil
	case TypeUndefined:
		d.pos++
		return Property{Type: TypeUndefined}, nil
	case TypeObject:
		return d.decodeObject()
	case TypeEcmaArray:
		return d.decodeEcmaArray()
	case TypeStrictArray:
		return d.decodeStrictArray()
	default:
		return Property{}, fmt.Errorf("marker 0x%02x: %w", m, ErrUnexpectedType)
	}
}

// DecodeAll restarts from offset 0 and decodes values until the input is
// exhausted. The cursor's prior position is preserved on return.
func (d *Decoder) DecodeAll() ([]Property, error) {
	pos := d.pos
	defer func() { d.pos = pos }()

	d.pos = 0
	var vals []Property
	for d.pos < len(d.buf) {
		v, err := d.Decode()
		if err != nil {
			return vals, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// Int decodes an integer. Under AMF0 this is a Number truncated to int;
// after a switch to AMF3 it is the variable-length U29 format.
func (d *Decoder) Int() (int, error) {
	if d.version == 3 {
		u, err := d.decodeU29()
		return int(u), err
	}
	n, err := d.decodeNumber()
	return int(n), err
}

func (d *Decoder) front() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrShortBuffer
	}
	return d.buf[d.pos], nil
}

// popFront returns the next byte, first handling a switch into AMF3 mode.
func (d *Decoder) popFront() (byte, error) {
	b, err := d.front()
	if err != nil {
		return 0, err
	}
	if d.version == 0 && b == typeSwitchAMF3 {
		d.pos++
		d.version = 3
		b, err = d.front()
		if err != nil {
			return 0, err
		}
	}
	d.pos++
	return b, nil
}

func (d *Decoder) decodeNumber() (float64, error) {
	m, err := d.front()
	if err != nil {
		return 0, err
	}
	if m != TypeNumber {
		return 0, fmt.Errorf("marker 0x%02x is not a number: %w", m, ErrUnexpectedType)
	}
	d.pos++
	if d.pos+8 > len(d.buf) {
		return 0, ErrShortBuffer
	}
	n := math.Float64frombits(binary.BigEndian.Uint64(d.buf[d.pos:]))
	d.pos += 8
	return n, nil
}

func (d *Decoder) decodeBoolean() (bool, error) {
	m, err := d.popFront()
	if err != nil {
		return false, err
	}
	if m != TypeBoolean {
		return false, fmt.Errorf("marker 0x%02x is not a boolean: %w", m, ErrUnexpectedType)
	}
	b, err := d.popFront()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (d *Decoder) decodeString() (string, error) {
	m, err := d.front()
	if err != nil {
		return "", err
	}
	if m != TypeString {
		return "", fmt.Errorf("marker 0x%02x is not a string: %w", m, ErrUnexpectedType)
	}
	d.pos++
	return d.decodeKey()
}

// decodeKey decodes a bare 16-bit length prefixed string with no marker.
func (d *Decoder) decodeKey() (string, error) {
	if d.pos+2 > len(d.buf) {
		return "", ErrShortBuffer
	}
	n := int(binary.BigEndian.Uint16(d.buf[d.pos:]))
	d.pos += 2
	if d.pos+n > len(d.buf) {
		return "", ErrShortBuffer
	}
	s := string(d.buf[d.pos : d.pos+n])
	d.pos += n
	return s, nil
}

func (d *Decoder) decodeObject() (Property, error) {
	d.pos++ // Object marker.
	obj, err := d.decodeProperties()
	if err != nil {
		return Property{}, err
	}
	return Property{Type: TypeObject, Object: obj}, nil
}

func (d *Decoder) decodeEcmaArray() (Property, error) {
	d.pos++ // ECMA array marker.
	// The count is advisory only; iteration stops on the empty-key sentinel.
	if d.pos+4 > len(d.buf) {
		return Property{}, ErrShortBuffer
	}
	d.pos += 4
	obj, err := d.decodeProperties()
	if err != nil {
		return Property{}, err
	}
	return Property{Type: TypeEcmaArray, Object: obj}, nil
}

func (d *Decoder) decodeStrictArray() (Property, error) {
	d.pos++ // Strict array marker.
	if d.pos+4 > len(d.buf) {
		return Property{}, ErrShortBuffer
	}
	count := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4

	var obj Object
	for i := uint32(0); i < count; i++ {
		v, err := d.Decode()
		if err != nil {
			return Property{}, err
		}
		obj.Properties = append(obj.Properties, v)
	}
	return Property{Type: TypeStrictArray, Object: obj}, nil
}

// decodeProperties decodes named key/value pairs up to the empty-key sentinel
// and the object end marker. Duplicate keys are appended, not replaced.
func (d *Decoder) decodeProperties() (Object, error) {
	var obj Object
	for {
		key, err := d.decodeKey()
		if err != nil {
			return Object{}, err
		}
		if key == "" {
			break
		}
		v, err := d.Decode()
		if err != nil {
			return Object{}, err
		}
		v.Name = key
		obj.Properties = append(obj.Properties, v)
	}
	if d.pos >= len(d.buf) {
		return Object{}, ErrShortBuffer
	}
	if d.buf[d.pos] != TypeObjectEnd {
		return Object{}, ErrExpectedObjectEnd
	}
	d.pos++
	return obj, nil
}

// decodeU29 decodes an AMF3 variable-length integer: seven low bits per byte
// with the high bit as continuation, except the fourth byte which contributes
// all eight bits.
func (d *Decoder) decodeU29() (uint32, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		b, err := d.popFront()
		if err != nil {
			return 0, err
		}
		if i == 3 {
			v = v<<8 | uint32(b)
			break
		}
		v = v<<7 | uint32(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	return v, nil
}

// Object methods:

// Property returns a property, either by its index when idx is non-negative, or by its name otherwise.
// If the requested property is not found or the type does not match, an ErrPropertyNotFound error is returned.
func (obj *Object) Property(name string, idx int, typ uint8) (*Property, error) {
	var prop *Property
	if idx >= 0 {
		if idx < len(obj.Properties) {
			prop = &obj.Properties[idx]
		}
	} else {
		for i, p := range obj.Properties {
			if p.Name == name {
				prop = &obj.Properties[i]
				break
			}
		}
	}
	if prop == nil || prop.Type != typ {
		return nil, ErrPropertyNotFound
	}
	return prop, nil
}

// NumberProperty is a wrapper for Property that returns a Number property's value, if any.
func (obj *Object) NumberProperty(name string, idx int) (float64, error) {
	prop, err := obj.Property(name, idx, TypeNumber)
	if err != nil {
		return 0, err
	}
	return prop.Number, nil
}

// StringProperty is a wrapper for Property that returns a String property's value, if any.
func (obj *Object) StringProperty(name string, idx int) (string, error) {
	prop, err := obj.Property(name, idx, TypeString)
	if err != nil {
		return "", err
	}
	return prop.String, nil
}

// ObjectProperty is a wrapper for Property that returns an Object property's value, if any.
func (obj *Object) ObjectProperty(name string, idx int) (*Object, error) {
	prop, err := obj.Property(name, idx, TypeObject)
	if err != nil {
		return nil, err
	}
	return &prop.Object, nil
}

// Dump renders a value as human readable text for diagnostic output.
func (p Property) Dump() string {
	var b strings.Builder
	p.dump(&b)
	return b.String()
}

func (p Property) dump(b *strings.Builder) {
	switch p.Type {
	case TypeNumber:
		b.WriteString(strconv.FormatFloat(p.Number, 'g', -1, 64))
	case TypeBoolean:
		b.WriteString(strconv.FormatBool(p.Number != 0))
	case TypeString:
		b.WriteString(strconv.Quote(p.String))
	case TypeNull:
		b.WriteString("null")
	case TypeUndefined:
		b.WriteString("undefined")
	case TypeObject, TypeEcmaArray:
		b.WriteByte('{')
		for i, q := range p.Object.Properties {
			if i != 0 {
				b.WriteString(", ")
			}
			b.WriteString(q.Name)
			b.WriteString(": ")
			q.dump(b)
		}
		b.WriteByte('}')
	case TypeStrictArray:
		b.WriteByte('[')
		for i, q := range p.Object.Properties {
			if i != 0 {
				b.WriteString(", ")
			}
			q.dump(b)
		}
		b.WriteByte(']')
	default:
		fmt.Fprintf(b, "type(0x%02x)", p.Type)
	}
}
