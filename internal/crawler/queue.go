package crawler

import (
	"container/heap"
	"time"

	"github.com/Zeeeepa/browserqa/internal/types"
)

// Priority classes from §4.5, lower value dequeues sooner.
const (
	PriorityCritical = 1
	PriorityHigh      = 2
	PriorityMedium    = 3
	PriorityLow       = 4
	PriorityDeferred  = 5
)

// queueItem wraps a CrawlQueueItem with its heap index.
type queueItem struct {
	item  types.CrawlQueueItem
	index int
}

// priorityQueue is a min-heap keyed by (priority ASC, enqueueTime ASC),
// the ordering §4.5 specifies for the crawl frontier.
type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].item.Priority != pq[j].item.Priority {
		return pq[i].item.Priority < pq[j].item.Priority
	}
	return pq[i].item.EnqueuedAt.Before(pq[j].item.EnqueuedAt)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	n := len(*pq)
	qi := x.(*queueItem)
	qi.index = n
	*pq = append(*pq, qi)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	qi := old[n-1]
	old[n-1] = nil
	qi.index = -1
	*pq = old[0 : n-1]
	return qi
}

// Queue is the crawler's frontier: a priority heap plus a visited set
// so the same normalized URL is never enqueued twice.
type Queue struct {
	heap    priorityQueue
	visited map[string]bool
}

func newQueue() *Queue {
	return &Queue{visited: make(map[string]bool)}
}

// Enqueue adds url at depth with priority, unless its normalized form
// has already been visited or queued.
func (q *Queue) Enqueue(url string, depth, priority int, parentURL string) bool {
	norm := Normalize(url)
	if q.visited[norm] {
		return false
	}
	q.visited[norm] = true
	heap.Push(&q.heap, &queueItem{item: types.CrawlQueueItem{
		URL:        url,
		Priority:   priority,
		Depth:      depth,
		ParentURL:  parentURL,
		EnqueuedAt: time.Now(),
	}})
	return true
}

// Requeue re-enqueues an already-visited item for retry, preserving its
// priority per §4.5's "Retry on page-level failure".
func (q *Queue) Requeue(item types.CrawlQueueItem) {
	item.RetryCount++
	item.EnqueuedAt = time.Now()
	heap.Push(&q.heap, &queueItem{item: item})
}

// Dequeue pops the highest-priority item, or ok=false if empty.
func (q *Queue) Dequeue() (types.CrawlQueueItem, bool) {
	if q.heap.Len() == 0 {
		return types.CrawlQueueItem{}, false
	}
	qi := heap.Pop(&q.heap).(*queueItem)
	return qi.item, true
}

func (q *Queue) Len() int {
	return q.heap.Len()
}
