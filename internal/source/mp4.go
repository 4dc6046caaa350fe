package source

import (
	"io"
	"os"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"
	"github.com/pkg/errors"

	"github.com/lanikai/framereader/internal/media"
)

// MP4 demuxes an MP4 file. H.264 video is emitted as compressed Annex B
// access units, with SPS and PPS repeated ahead of every key frame; audio
// packets are emitted as compressed audio frames.
type MP4 struct {
	file    *os.File
	demuxer *mp4.Demuxer
	codecs  []av.CodecData
	pool    *media.Pool

	// Demuxer stream index to StreamID; -1 for skipped streams.
	ids   []StreamID
	infos []media.Info
}

// OpenMP4 opens an MP4 file and indexes its streams.
func OpenMP4(filename string) (*MP4, error) {
	log.Info("Opening file %s", filename)
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	demuxer := mp4.NewDemuxer(file)
	codecs, err := demuxer.Streams()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "read %s", filename)
	}

	m := &MP4{
		file:    file,
		demuxer: demuxer,
		codecs:  codecs,
		pool:    media.NewPool(0),
	}
	for _, codec := range codecs {
		info, ok := mp4StreamInfo(codec)
		if !ok {
			log.Debug("Skipping %v stream", codec.Type())
			m.ids = append(m.ids, -1)
			continue
		}
		log.Info("%v stream: %v", codec.Type(), info)
		m.ids = append(m.ids, StreamID(len(m.infos)))
		m.infos = append(m.infos, info)
	}

	if len(m.infos) == 0 {
		file.Close()
		return nil, errors.New("No compatible stream found")
	}
	return m, nil
}

func mp4StreamInfo(codec av.CodecData) (media.Info, bool) {
	switch cd := codec.(type) {
	case av.VideoCodecData:
		if codec.Type() != av.H264 {
			return media.Info{}, false
		}
		return media.Info{
			Kind:     media.Video,
			Codec:    "h264",
			Geometry: media.Geometry{Width: cd.Width(), Height: cd.Height(), Format: media.Compressed},
		}, true
	case av.AudioCodecData:
		return media.Info{
			Kind:         media.Audio,
			Codec:        cd.Type().String(),
			SampleRate:   cd.SampleRate(),
			Channels:     cd.ChannelLayout().Count(),
			SampleFormat: media.CompressedAudio,
		}, true
	}
	return media.Info{}, false
}

func openMP4(path string) (Producer, error) {
	return OpenMP4(path)
}

func init() {
	Register("mp4", openMP4)
}

func (m *MP4) Produce(recycle Recycler) (StreamID, media.Frame, error) {
	for {
		pkt, err := m.demuxer.ReadPacket()
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		if err != nil {
			return 0, nil, errors.Wrapf(err, "read packet from %s", m.file.Name())
		}

		id := m.ids[pkt.Idx]
		if id < 0 {
			continue
		}
		pts := pkt.Time + pkt.CompositionTime

		switch codec := m.codecs[pkt.Idx].(type) {
		case av.VideoCodecData:
			vf := recycledVideo(recycle, id, m.infos[id].Geometry, m.pool)
			vf.Codec = "h264"
			vf.PTS = pts
			vf.Key = pkt.IsKeyFrame
			if err := vf.SetData(annexB(codec, pkt)); err != nil {
				return 0, nil, err
			}
			return id, vf, nil

		case av.AudioCodecData:
			af := recycledAudio(recycle, id, m.pool)
			info := m.infos[id]
			af.Codec = info.Codec
			af.SampleRate = info.SampleRate
			af.Channels = info.Channels
			af.Format = media.CompressedAudio
			af.PTS = pts
			af.SetData(pkt.Data)
			af.Samples = 0
			if d, err := codec.PacketDuration(pkt.Data); err == nil {
				af.Samples = int(d * time.Duration(info.SampleRate) / time.Second)
			}
			return id, af, nil
		}
	}
}

var annexBStartCode = []byte{0, 0, 0, 1}

// annexB converts a length-prefixed H.264 packet to start-code delimited
// NAL units, leading key frames with the parameter sets.
func annexB(codec av.CodecData, pkt av.Packet) []byte {
	nalus, _ := h264parser.SplitNALUs(pkt.Data)
	var out []byte
	if pkt.IsKeyFrame {
		if cd, ok := codec.(h264parser.CodecData); ok {
			out = append(out, annexBStartCode...)
			out = append(out, cd.SPS()...)
			out = append(out, annexBStartCode...)
			out = append(out, cd.PPS()...)
		}
	}
	for _, nalu := range nalus {
		out = append(out, annexBStartCode...)
		out = append(out, nalu...)
	}
	return out
}

// SeekTo seeks every stream to the key frame at or before ts.
func (m *MP4) SeekTo(ts time.Duration) error {
	if err := m.demuxer.SeekToTime(ts); err != nil {
		return errors.Wrapf(err, "seek %s to %v", m.file.Name(), ts)
	}
	return nil
}

func (m *MP4) Streams() []media.Info {
	return m.infos
}

func (m *MP4) Close() error {
	m.pool.Clear()
	return m.file.Close()
}
