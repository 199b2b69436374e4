package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	identitiesCreated     atomic.Int64
	linksReused           atomic.Int64
	aliasConflicts        atomic.Int64
	duplicatesRejected    atomic.Int64
	mergesCompleted       atomic.Int64
	identifierRetries     atomic.Int64
	identifierInsertRaces atomic.Int64
	identifierExhausted   atomic.Int64
	eventsPublished       atomic.Int64
	eventsDropped         atomic.Int64
	cacheHits             atomic.Int64
	cacheMisses           atomic.Int64
)

func Init() {}

func IncIdentityCreated()      { identitiesCreated.Add(1) }
func IncLinkReused()           { linksReused.Add(1) }
func IncAliasConflict()        { aliasConflicts.Add(1) }
func IncDuplicateRejected()    { duplicatesRejected.Add(1) }
func IncMergeCompleted()       { mergesCompleted.Add(1) }
func IncIdentifierRetry()      { identifierRetries.Add(1) }
func IncIdentifierInsertRace() { identifierInsertRaces.Add(1) }
func IncIdentifierExhausted()  { identifierExhausted.Add(1) }
func IncEventPublished()       { eventsPublished.Add(1) }
func IncEventDropped()         { eventsDropped.Add(1) }
func IncCacheHit()             { cacheHits.Add(1) }
func IncCacheMiss()            { cacheMisses.Add(1) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeCounter(w, "empi_identities_created_total", "Number of master identities created.", identitiesCreated.Load())
	writeCounter(w, "empi_links_reused_total", "Number of link requests resolved to an existing identity with no write.", linksReused.Load())
	writeCounter(w, "empi_alias_conflicts_total", "Number of link or alias requests rejected because the alias is owned elsewhere.", aliasConflicts.Load())
	writeCounter(w, "empi_duplicates_rejected_total", "Number of alias additions rejected as duplicates.", duplicatesRejected.Load())
	writeCounter(w, "empi_merges_completed_total", "Number of identity consolidations recorded.", mergesCompleted.Load())
	writeCounter(w, "empi_identifier_retries_total", "Number of EMPI number candidates rejected by the existence check.", identifierRetries.Load())
	writeCounter(w, "empi_identifier_insert_races_total", "Number of identity inserts lost to a concurrent claim on the same EMPI number.", identifierInsertRaces.Load())
	writeCounter(w, "empi_identifier_exhausted_total", "Number of identifier generations that exhausted their retry budget.", identifierExhausted.Load())
	writeCounter(w, "empi_events_published_total", "Number of identity events delivered to the event channel.", eventsPublished.Load())
	writeCounter(w, "empi_events_dropped_total", "Number of identity events dropped after a delivery failure.", eventsDropped.Load())
	writeCounter(w, "empi_cache_hits_total", "Number of identity view lookups served from cache.", cacheHits.Load())
	writeCounter(w, "empi_cache_misses_total", "Number of identity view lookups that missed the cache.", cacheMisses.Load())
}

func writeCounter(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
