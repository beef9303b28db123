package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
)

// jsPreamble is the dispatcher the sandboxed process runs. Tool calls travel
// as {"__call": {id, tool, args}} lines on stdout; replies arrive as
// {"__result": {id, result|error}} lines on stdin; the final value is emitted
// as a {"__out": ...} line.
const jsPreamble = `"use strict";

const readline = require("node:readline");

const pending = new Map();
let nextCallId = 0;

const rl = readline.createInterface({ input: process.stdin, terminal: false });
rl.on("line", (line) => {
  let msg;
  try {
    msg = JSON.parse(line);
  } catch {
    return;
  }
  const reply = msg.__result;
  if (!reply || !pending.has(reply.id)) {
    return;
  }
  const waiter = pending.get(reply.id);
  pending.delete(reply.id);
  if (reply.error) {
    waiter.reject(new Error(reply.error));
  } else {
    waiter.resolve(reply.result);
  }
});

function call(tool, args) {
  return new Promise((resolve, reject) => {
    const id = ++nextCallId;
    pending.set(id, { resolve, reject });
    process.stdout.write(JSON.stringify({ __call: { id, tool, args: args || {} } }) + "\n");
  });
}

function emit(value) {
  process.stdout.write(JSON.stringify({ __out: value === undefined ? null : value }) + "\n");
}
`

const jsRunner = `
main()
  .catch((err) => {
    process.stderr.write(String(err && err.message ? err.message : err) + "\n");
    process.exitCode = 1;
  })
  .finally(() => rl.close());
`

const pyPreamble = `import json
import sys

_next_call_id = 0


def call(tool, args=None):
    global _next_call_id
    _next_call_id += 1
    request = {"__call": {"id": _next_call_id, "tool": tool, "args": args or {}}}
    sys.stdout.write(json.dumps(request, sort_keys=True) + "\n")
    sys.stdout.flush()
    for line in sys.stdin:
        try:
            msg = json.loads(line)
        except ValueError:
            continue
        reply = msg.get("__result")
        if not reply or reply.get("id") != _next_call_id:
            continue
        if reply.get("error"):
            raise RuntimeError(reply["error"])
        return reply.get("result")
    raise RuntimeError("dispatcher stream closed")


def emit(value):
    sys.stdout.write(json.dumps({"__out": value}, sort_keys=True) + "\n")
    sys.stdout.flush()


class _Server:
    def __init__(self, name):
        self._name = name

    def __getattr__(self, tool):
        def _invoke(args=None, **kwargs):
            merged = dict(args or {})
            merged.update(kwargs)
            return call(self._name + "." + tool, merged)
        return _invoke
`

// BuildRuntimeUnit assembles the executable source the sandbox runs:
// dispatcher preamble, one untyped stub object per server, and the entry
// body. The JS form runs under node; the Python form under python3.
func BuildRuntimeUnit(language string, selected []catalog.Descriptor, entry string) string {
	if language == LangPython {
		var b strings.Builder
		b.WriteString(pyHeader)
		b.WriteString(pyPreamble)
		b.WriteString("\n\n")
		for _, server := range serverNames(selected) {
			fmt.Fprintf(&b, "%s = _Server(%q)\n", sanitizeIdent(server), server)
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(entry, "\n"))
		b.WriteString("\n")
		return b.String()
	}

	var b strings.Builder
	b.WriteString(tsHeader)
	b.WriteString(jsPreamble)
	b.WriteString("\n")
	b.WriteString(jsStubBlock(selected))
	b.WriteString("\nasync function main() {\n")
	b.WriteString(indent(strings.TrimRight(entry, "\n"), "  "))
	b.WriteString("\n}\n")
	b.WriteString(jsRunner)
	return b.String()
}

// BuildVMUnit assembles the source for the embedded interpreter, where the
// host injects call, emit, and print directly: stubs plus the entry wrapped
// in an async function the host awaits.
func BuildVMUnit(selected []catalog.Descriptor, entry string) string {
	var b strings.Builder
	b.WriteString(jsStubBlock(selected))
	b.WriteString("\n(async () => {\n")
	b.WriteString(indent(strings.TrimRight(entry, "\n"), "  "))
	b.WriteString("\n})();\n")
	return b.String()
}

func jsStubBlock(selected []catalog.Descriptor) string {
	byServer := map[string][]catalog.Descriptor{}
	for _, d := range selected {
		byServer[d.Server] = append(byServer[d.Server], d)
	}
	var b strings.Builder
	for _, server := range serverNames(selected) {
		tools := byServer[server]
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
		fmt.Fprintf(&b, "const %s = {\n", sanitizeIdent(server))
		for _, d := range tools {
			fmt.Fprintf(&b, "  %s: (args) => call(%q, args),\n", jsObjectKey(d.Name), d.FQN())
		}
		b.WriteString("};\n")
	}
	return b.String()
}

func jsObjectKey(name string) string {
	if identPattern.MatchString(name) {
		return name
	}
	return fmt.Sprintf("%q", name)
}

func serverNames(selected []catalog.Descriptor) []string {
	seen := map[string]bool{}
	var names []string
	for _, d := range selected {
		if !seen[d.Server] {
			seen[d.Server] = true
			names = append(names, d.Server)
		}
	}
	sort.Strings(names)
	return names
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

// EstimateTokenCost approximates the context cost of a unit as the character
// count of its stubs and entry.
func EstimateTokenCost(stubs []StubFile, entry string) int {
	total := len(entry)
	for _, s := range stubs {
		total += len(s.Content)
	}
	return total
}
