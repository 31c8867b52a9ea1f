// ABOUTME: XML serialization of a roster snapshot for the protocol-level export.

package roster

import (
	"encoding/xml"
	"fmt"
)

type xmlBook struct {
	XMLName  xml.Name     `xml:"ContactBook"`
	Groups   []xmlGroup   `xml:"Groups>Group"`
	Contacts []xmlContact `xml:"Contacts>Contact"`
}

type xmlGroup struct {
	Name string `xml:"Name"`
}

type xmlContact struct {
	UIN   uint32 `xml:"GGNumber"`
	Name  string `xml:"ShowName"`
	Group string `xml:"GroupName,omitempty"`
}

// EncodeXML renders a snapshot in the contact-book format the server-side
// export expects.
func EncodeXML(snap *Snapshot) ([]byte, error) {
	book := xmlBook{}
	for _, g := range snap.Groups {
		book.Groups = append(book.Groups, xmlGroup{Name: g.Name})
	}
	for _, c := range snap.Contacts {
		book.Contacts = append(book.Contacts, xmlContact{UIN: c.UIN, Name: c.Name, Group: c.Group})
	}

	out, err := xml.MarshalIndent(book, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding roster: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
