package http

import (
	"encoding/xml"
	"fmt"

	"github.com/lumoware/lumo/internal/streaming"
)

// DASH manifest document. Only the attributes dash.js actually consults
// are emitted.
type mpdDocument struct {
	XMLName       xml.Name `xml:"MPD"`
	Xmlns         string   `xml:"xmlns,attr"`
	Profiles      string   `xml:"profiles,attr"`
	Type          string   `xml:"type,attr"`
	MediaDuration string   `xml:"mediaPresentationDuration,attr"`
	MinBufferTime string   `xml:"minBufferTime,attr"`
	Period        mpdPeriod
}

type mpdPeriod struct {
	XMLName        xml.Name           `xml:"Period"`
	ID             string             `xml:"id,attr"`
	Duration       string             `xml:"duration,attr"`
	AdaptationSets []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	ID               int                 `xml:"id,attr"`
	ContentType      string              `xml:"contentType,attr"`
	Lang             string              `xml:"lang,attr,omitempty"`
	SegmentAlignment bool                `xml:"segmentAlignment,attr"`
	Roles            []mpdRole           `xml:"Role"`
	Representations  []mpdRepresentation `xml:"Representation"`
}

type mpdRole struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
}

type mpdRepresentation struct {
	ID              string              `xml:"id,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	Codecs          string              `xml:"codecs,attr,omitempty"`
	Bandwidth       int                 `xml:"bandwidth,attr"`
	BaseURL         string              `xml:"BaseURL,omitempty"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate,omitempty"`
}

type mpdSegmentTemplate struct {
	Timescale      int    `xml:"timescale,attr"`
	Duration       int    `xml:"duration,attr"`
	Initialization string `xml:"initialization,attr"`
	Media          string `xml:"media,attr"`
	StartNumber    uint32 `xml:"startNumber,attr"`
}

const mpdTimescale = 1000

// compileMPD renders the group's tracks as a static DASH manifest. The
// quality ladder shares one video AdaptationSet so players can switch
// rungs; audio and subtitle tracks get a set each.
func compileMPD(manifests []*streaming.VirtualManifest, duration float64, startNum uint32) ([]byte, error) {
	var sets []mpdAdaptationSet

	var videoReps []mpdRepresentation
	for _, vm := range manifests {
		if vm.ContentType != streaming.ContentVideo {
			continue
		}
		videoReps = append(videoReps, segmentRepresentation(vm, startNum))
	}
	if len(videoReps) > 0 {
		sets = append(sets, mpdAdaptationSet{
			ID:               len(sets),
			ContentType:      "video",
			SegmentAlignment: true,
			Representations:  videoReps,
		})
	}

	// One AdaptationSet per audio track; each is a distinct language or
	// commentary track, not a bitrate alternative.
	for _, vm := range manifests {
		if vm.ContentType != streaming.ContentAudio {
			continue
		}
		set := mpdAdaptationSet{
			ID:               len(sets),
			ContentType:      "audio",
			Lang:             vm.Language,
			SegmentAlignment: true,
			Representations:  []mpdRepresentation{segmentRepresentation(vm, startNum)},
		}
		if vm.IsDefault {
			set.Roles = append(set.Roles, mpdRole{
				SchemeIDURI: "urn:mpeg:dash:role:2011",
				Value:       "main",
			})
		}
		sets = append(sets, set)
	}

	for _, vm := range manifests {
		if vm.ContentType != streaming.ContentSubtitle {
			continue
		}
		sets = append(sets, mpdAdaptationSet{
			ID:          len(sets),
			ContentType: "text",
			Lang:        vm.Language,
			Representations: []mpdRepresentation{{
				ID:        vm.ID,
				MimeType:  vm.Mime,
				Codecs:    vm.Codecs,
				Bandwidth: vm.Bandwidth,
				BaseURL:   vm.ChunkPath,
			}},
		})
	}

	dur := isoDuration(duration)
	doc := mpdDocument{
		Xmlns:         "urn:mpeg:dash:schema:mpd:2011",
		Profiles:      "urn:mpeg:dash:profile:isoff-live:2011",
		Type:          "static",
		MediaDuration: dur,
		MinBufferTime: "PT4S",
		Period: mpdPeriod{
			ID:             "0",
			Duration:       dur,
			AdaptationSets: sets,
		},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func segmentRepresentation(vm *streaming.VirtualManifest, startNum uint32) mpdRepresentation {
	return mpdRepresentation{
		ID:        vm.ID,
		MimeType:  vm.Mime,
		Codecs:    vm.Codecs,
		Bandwidth: vm.Bandwidth,
		SegmentTemplate: &mpdSegmentTemplate{
			Timescale:      mpdTimescale,
			Duration:       int(vm.TargetDuration * mpdTimescale),
			Initialization: vm.InitSeg,
			Media:          vm.ChunkPath,
			StartNumber:    startNum,
		},
	}
}

func isoDuration(seconds float64) string {
	return fmt.Sprintf("PT%.3fS", seconds)
}
