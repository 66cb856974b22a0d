package model

import (
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

func (tf *Timeframe) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "size":
			tf.Size = in.Int()
		case "unit":
			tf.Unit = Unit(in.String())
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

func (tf Timeframe) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"size":`)
	out.Int(tf.Size)
	out.RawString(`,"unit":`)
	out.String(string(tf.Unit))
	out.RawByte('}')
}

func (o *OHLC) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "time":
			// some producers quote the timestamp
			n := in.JsonNumber()
			if n != "" {
				f, err := n.Float64()
				if err != nil {
					in.AddError(err)
				}
				o.Time = f
			}
		case "open":
			o.Open = in.Float64()
		case "high":
			o.High = in.Float64()
		case "low":
			o.Low = in.Float64()
		case "close":
			o.Close = in.Float64()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

func (o OHLC) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"time":`)
	out.Float64(o.Time)
	out.RawString(`,"open":`)
	out.Float64(o.Open)
	out.RawString(`,"high":`)
	out.Float64(o.High)
	out.RawString(`,"low":`)
	out.Float64(o.Low)
	out.RawString(`,"close":`)
	out.Float64(o.Close)
	out.RawByte('}')
}

func (m *SymbolDataMessage) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "symbol":
			m.Symbol = in.String()
		case "timeframe":
			m.Timeframe.UnmarshalEasyJSON(in)
		case "ohlc":
			m.OHLC.UnmarshalEasyJSON(in)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

func (m SymbolDataMessage) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"symbol":`)
	out.String(m.Symbol)
	out.RawString(`,"timeframe":`)
	m.Timeframe.MarshalEasyJSON(out)
	out.RawString(`,"ohlc":`)
	m.OHLC.MarshalEasyJSON(out)
	out.RawByte('}')
}

func (r *SubscribeRequest) UnmarshalEasyJSON(in *jlexer.Lexer) {
	if in.IsNull() {
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "symbol":
			r.Symbol = in.String()
		case "timeframe":
			r.Timeframe.UnmarshalEasyJSON(in)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
}

func (r SubscribeRequest) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"symbol":`)
	out.String(r.Symbol)
	out.RawString(`,"timeframe":`)
	r.Timeframe.MarshalEasyJSON(out)
	out.RawByte('}')
}

func (r SubscribeRequest) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	r.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

func (r *SubscribeRequest) UnmarshalJSON(data []byte) error {
	l := jlexer.Lexer{Data: data}
	r.UnmarshalEasyJSON(&l)
	return l.Error()
}

func (m SymbolDataMessage) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	m.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

func (m *SymbolDataMessage) UnmarshalJSON(data []byte) error {
	l := jlexer.Lexer{Data: data}
	m.UnmarshalEasyJSON(&l)
	return l.Error()
}
