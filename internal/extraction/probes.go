// internal/extraction/probes.go
package extraction

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// readFieldJS resolves a cascade inside a root node. Shared by the probes below.
const readFieldJS = `
  const clean = (v) => (v || '').replace(/\s+/g, ' ').trim();
  const readField = (root, cascade) => {
    for (const s of cascade.strategies) {
      let el = null;
      try { el = root.querySelector(s.selector); } catch (e) { continue; }
      if (!el) { continue; }
      let v = '';
      for (const a of (s.attrs || [])) {
        v = clean(el.getAttribute(a));
        if (v) { break; }
      }
      if (!v) { v = clean(el.innerText || el.textContent); }
      if (v) { return { value: v, strategy: s.name + '@' + s.version }; }
    }
    return { value: '', strategy: '' };
  };
  const queryAll = (cascade) => {
    for (const s of cascade.strategies) {
      let nodes = [];
      try { nodes = Array.from(document.querySelectorAll(s.selector)); } catch (e) { continue; }
      if (nodes.length > 0) { return { nodes, strategy: s.name + '@' + s.version, selector: s.selector }; }
    }
    return { nodes: [], strategy: '', selector: '' };
  };
`

func withReader(body string) string {
	return strings.Replace(body, "/*READER*/", readFieldJS, 1)
}

// firstMatchJS reports the first strategy with at least one match, optionally
// requiring the element to be rendered.
var firstMatchJS = withReader(`(function (cascade, visibleOnly) {
  /*READER*/
  const visible = (el) => {
    const r = el.getBoundingClientRect();
    const st = window.getComputedStyle(el);
    return r.width > 0 && r.height > 0 && st.display !== 'none' && st.visibility !== 'hidden';
  };
  for (const s of cascade.strategies) {
    let nodes = [];
    try { nodes = Array.from(document.querySelectorAll(s.selector)); } catch (e) { continue; }
    if (visibleOnly) { nodes = nodes.filter(visible); }
    if (nodes.length > 0) {
      return { strategy: s.name + '@' + s.version, selector: s.selector, count: nodes.length };
    }
  }
  return { strategy: '', selector: '', count: 0 };
})`)

// listItemsJS reads the participant names of the first limit list items.
var listItemsJS = withReader(`(function (itemCascade, nameCascade, limit) {
  /*READER*/
  const found = queryAll(itemCascade);
  const items = found.nodes.slice(0, limit).map((node, index) => {
    const name = readField(node, nameCascade);
    return { index, name: name.value, strategy: name.strategy };
  });
  return { strategy: found.strategy, total: found.nodes.length, items };
})`)

// markItemJS tags one list item so the synthesizer can target it by selector.
var markItemJS = withReader(`(function (itemCascade, index, attr, token) {
  /*READER*/
  document.querySelectorAll('[' + attr + ']').forEach((el) => el.removeAttribute(attr));
  const found = queryAll(itemCascade);
  const node = found.nodes[index];
  if (!node) { return false; }
  node.setAttribute(attr, token);
  return true;
})`)

// messagesJS extracts sender, body and time for every rendered message node.
var messagesJS = withReader(`(function (nodeCascade, senderCascade, bodyCascade, timeCascade) {
  /*READER*/
  const found = queryAll(nodeCascade);
  const nodes = found.nodes.map((node) => {
    let sender = readField(node, senderCascade);
    if (!sender.value) {
      const labelled = node.querySelector('[aria-label*="message from" i]');
      const m = labelled && /message from (.+)/i.exec(labelled.getAttribute('aria-label') || '');
      if (m) { sender = { value: clean(m[1]), strategy: 'aria-message-from@1' }; }
    }
    const body = readField(node, bodyCascade);
    const time = readField(node, timeCascade);
    return {
      sender: sender.value, senderStrategy: sender.strategy,
      body: body.value, bodyStrategy: body.strategy,
      time: time.value, timeStrategy: time.strategy,
    };
  });
  return { strategy: found.strategy, nodes };
})`)

// threadContextJS gathers the counterparty fallbacks of an open conversation.
var threadContextJS = withReader(`(function (headerCascade, selectedCascade) {
  /*READER*/
  const header = readField(document, headerCascade);
  const selected = readField(document, selectedCascade);
  return {
    title: document.title || '',
    header: header.value, headerStrategy: header.strategy,
    selected: selected.value, selectedStrategy: selected.strategy,
  };
})`)

type matchResult struct {
	Strategy string `json:"strategy"`
	Selector string `json:"selector"`
	Count    int    `json:"count"`
}

type listItemsResult struct {
	Strategy string `json:"strategy"`
	Total    int    `json:"total"`
	Items    []struct {
		Index    int    `json:"index"`
		Name     string `json:"name"`
		Strategy string `json:"strategy"`
	} `json:"items"`
}

type rawMessage struct {
	Sender         string `json:"sender"`
	SenderStrategy string `json:"senderStrategy"`
	Body           string `json:"body"`
	BodyStrategy   string `json:"bodyStrategy"`
	Time           string `json:"time"`
	TimeStrategy   string `json:"timeStrategy"`
}

type messagesResult struct {
	Strategy string       `json:"strategy"`
	Nodes    []rawMessage `json:"nodes"`
}

type threadContext struct {
	Title            string `json:"title"`
	Header           string `json:"header"`
	HeaderStrategy   string `json:"headerStrategy"`
	Selected         string `json:"selected"`
	SelectedStrategy string `json:"selectedStrategy"`
}

// call renders fn applied to JSON-encoded args as a single expression.
func call(fn string, args ...interface{}) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := codec.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode probe argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return "(" + strings.TrimSpace(fn) + ")(" + strings.Join(encoded, ", ") + ")", nil
}
