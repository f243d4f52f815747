// askctl drives the relay server the way the browser extension does: it opens
// a page channel, asks a question and renders the streamed answer.
package main

func main() {
	Execute()
}
