package query

import (
	"golang.org/x/net/dns/dnsmessage"
)

// PacketParser walks every section of a DNS message. Unknown record types
// come back as dnsmessage.UnknownResource rather than failing the parse.
func PacketParser(buf []byte) (dnsmessage.Message, error) {
	var parser dnsmessage.Parser
	header, err := parser.Start(buf)
	if err != nil {
		return dnsmessage.Message{}, err
	}

	msg := dnsmessage.Message{
		Header: header,
	}

	for {
		question, err := parser.Question()
		if err == dnsmessage.ErrSectionDone {
			break
		}
		if err != nil {
			return dnsmessage.Message{}, err
		}
		msg.Questions = append(msg.Questions, question)
	}

	for {
		answer, err := parser.Answer()
		if err == dnsmessage.ErrSectionDone {
			break
		}
		if err != nil {
			return dnsmessage.Message{}, err
		}
		msg.Answers = append(msg.Answers, answer)
	}

	for {
		authority, err := parser.Authority()
		if err == dnsmessage.ErrSectionDone {
			break
		}
		if err != nil {
			return dnsmessage.Message{}, err
		}
		msg.Authorities = append(msg.Authorities, authority)
	}

	for {
		additional, err := parser.Additional()
		if err == dnsmessage.ErrSectionDone {
			break
		}
		if err != nil {
			return dnsmessage.Message{}, err
		}
		msg.Additionals = append(msg.Additionals, additional)
	}

	return msg, nil
}

// UDPSize returns the payload size a client advertised in its OPT record,
// or 512 when it sent none.
func UDPSize(msg dnsmessage.Message) int {
	for _, rr := range msg.Additionals {
		if rr.Header.Type == dnsmessage.TypeOPT {
			if size := int(rr.Header.Class); size > 512 {
				return size
			}
			return 512
		}
	}
	return 512
}

// HasEDNS reports whether msg carries an OPT record.
func HasEDNS(msg dnsmessage.Message) bool {
	for _, rr := range msg.Additionals {
		if rr.Header.Type == dnsmessage.TypeOPT {
			return true
		}
	}
	return false
}

// OPT builds an EDNS0 pseudo record advertising size.
func OPT(size int) (dnsmessage.Resource, error) {
	var hdr dnsmessage.ResourceHeader
	if err := hdr.SetEDNS0(size, dnsmessage.RCodeSuccess, false); err != nil {
		return dnsmessage.Resource{}, err
	}
	return dnsmessage.Resource{Header: hdr, Body: &dnsmessage.OPTResource{}}, nil
}
