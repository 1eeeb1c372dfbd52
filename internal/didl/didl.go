// Package didl builds the DIDL-Lite item description sent alongside
// SetAVTransportURI.
package didl

import (
	"encoding/xml"
	"strings"
)

// ContentFeatures are the DLNA.ORG flags advertised for every stream this
// program serves: byte seek allowed, not converted, streaming transfer mode.
const ContentFeatures = "DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01500000000000000000000000000000"

const (
	unknown             = "Unknown"
	subtitleContentType = "text/srt"
	captionType         = "srt"
)

var objectClasses = map[string]string{
	"audio": "object.item.audioItem.musicTrack",
	"video": "object.item.videoItem.movie",
	"image": "object.item.imageItem.photo",
}

type Resource struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	URL          string `xml:",chardata"`
}

type Caption struct {
	Type string `xml:"sec:type,attr"`
	URL  string `xml:",chardata"`
}

type Item struct {
	ID         string `xml:"id,attr"`
	ParentID   string `xml:"parentID,attr"`
	Restricted string `xml:"restricted,attr"`
	Title      string `xml:"dc:title"`
	Creator    string `xml:"dc:creator"`
	Genre      string `xml:"upnp:genre"`
	// Res holds the media resource first, then the subtitle resource.
	Res           []Resource `xml:"res"`
	Class         string     `xml:"upnp:class,omitempty"`
	CaptionInfo   *Caption   `xml:"sec:CaptionInfo,omitempty"`
	CaptionInfoEx *Caption   `xml:"sec:CaptionInfoEx,omitempty"`
}

type Document struct {
	XMLName   xml.Name `xml:"DIDL-Lite"`
	Xmlns     string   `xml:"xmlns,attr"`
	XmlnsDC   string   `xml:"xmlns:dc,attr"`
	XmlnsUPnP string   `xml:"xmlns:upnp,attr"`
	XmlnsSec  string   `xml:"xmlns:sec,attr"`
	XmlnsDLNA string   `xml:"xmlns:dlna,attr"`
	Item      Item     `xml:"item"`
}

// Metadata is the input to Encode.
type Metadata struct {
	Title        string
	URL          string
	ProtocolInfo string
	// Kind is audio, video or image; anything else omits upnp:class.
	Kind        string
	SubtitleURL string
}

// ProtocolInfo returns the res@protocolInfo for a stream. Remote MPEG-TS
// carries no DLNA flags.
func ProtocolInfo(contentType string, isLocal bool) string {
	contentType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	if contentType == "" {
		contentType = "video/mpeg"
	}
	if !isLocal && contentType == "video/mp2t" {
		return "http-get:*:" + contentType + ":*"
	}
	return "http-get:*:" + contentType + ":" + ContentFeatures
}

// Build returns the document for m without serializing it.
func Build(m Metadata) Document {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = unknown
	}

	doc := Document{
		Xmlns:     "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/",
		XmlnsDC:   "http://purl.org/dc/elements/1.1/",
		XmlnsUPnP: "urn:schemas-upnp-org:metadata-1-0/upnp/",
		XmlnsSec:  "http://www.sec.co.kr/",
		XmlnsDLNA: "urn:schemas-dlna-org:metadata-1-0/",
		Item: Item{
			ID:         "0",
			ParentID:   "-1",
			Restricted: "false",
			Title:      title,
			Creator:    unknown,
			Genre:      unknown,
			Class:      objectClasses[m.Kind],
		},
	}

	if m.URL != "" && m.ProtocolInfo != "" {
		doc.Item.Res = append(doc.Item.Res, Resource{ProtocolInfo: m.ProtocolInfo, URL: m.URL})
	}

	if m.SubtitleURL != "" {
		doc.Item.CaptionInfo = &Caption{Type: captionType, URL: m.SubtitleURL}
		doc.Item.CaptionInfoEx = &Caption{Type: captionType, URL: m.SubtitleURL}
		doc.Item.Res = append(doc.Item.Res, Resource{
			ProtocolInfo: "http-get:*:" + subtitleContentType + ":" + ContentFeatures,
			URL:          m.SubtitleURL,
		})
	}
	return doc
}

// Encode serializes the DIDL-Lite document for m, without an XML declaration.
func Encode(m Metadata) (string, error) {
	out, err := xml.Marshal(Build(m))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
