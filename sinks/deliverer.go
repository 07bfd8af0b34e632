package sinks

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.talusdb.dev/core/codecs"
	"go.talusdb.dev/core/table"
)

// Deliverer writes each delivered item to a Sink as a JSON document, at
//
//	<table>/<unix-nanos>-<uuid>.json[<codec extension>]
//
// Unix nanoseconds are zero-padded, so that a lexicographic listing of a
// table's prefix is ordered on delivery time. Deliverer implements the
// publisher.Deliverer interface.
type Deliverer struct {
	Sink  Sink
	Codec codecs.Codec
}

// NewDeliverer returns a Deliverer to |sink| which compresses with |codec|.
func NewDeliverer(sink Sink, codec codecs.Codec) (*Deliverer, error) {
	if err := codec.Validate(); err != nil {
		return nil, err
	}
	return &Deliverer{Sink: sink, Codec: codec}, nil
}

// Deliver |item| of |tableName| to the Sink. It returns true only if the
// item was durably written.
func (d *Deliverer) Deliver(ctx context.Context, tableName string, item any) (bool, error) {
	var doc, err = table.JSON.Marshal(item)
	if err != nil {
		return false, errors.WithMessage(err, "encoding item")
	}
	doc = append(doc, '\n')

	if doc, err = codecs.Compress(doc, d.Codec); err != nil {
		return false, err
	}
	var path = DeliveryPath(tableName, timeNow(), uuid.New(), d.Codec)

	if err = d.Sink.Put(ctx, path, bytes.NewReader(doc), int64(len(doc)), d.Codec.ContentEncoding()); err != nil {
		if d.Sink.IsAuthError(err) {
			log.WithFields(log.Fields{
				"provider": d.Sink.Provider(),
				"path":     path,
				"err":      err,
			}).Error("sink refused delivery (check sink credentials and permissions)")
			return false, errors.WithMessagef(err, "putting %s", path)
		}
		// A Put may fail after its content was written, as when its response
		// is lost. Paths are unique to the attempt, so existing content is
		// this item.
		if exists, existsErr := d.Sink.Exists(ctx, path); existsErr != nil || !exists {
			return false, errors.WithMessagef(err, "putting %s", path)
		}
		log.WithFields(log.Fields{
			"provider": d.Sink.Provider(),
			"path":     path,
			"err":      err,
		}).Warn("put failed, but its content exists")
	}

	log.WithFields(log.Fields{
		"provider": d.Sink.Provider(),
		"path":     path,
		"size":     len(doc),
	}).Debug("delivered item")

	return true, nil
}

// DeliveryPath returns the Sink path of an item of |tableName| delivered at |at|.
func DeliveryPath(tableName string, at time.Time, id uuid.UUID, codec codecs.Codec) string {
	return fmt.Sprintf("%s/%019d-%s.json%s", tableName, at.UnixNano(), id, codec.Extension())
}

var timeNow = time.Now
