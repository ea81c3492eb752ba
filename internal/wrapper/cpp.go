package wrapper

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	cppMain     = regexp.MustCompile(`\bint\s+main\s*\(`)
	cppSolution = regexp.MustCompile(`(?m)^\s*(?:class|struct)\s+Solution\b`)
	cppSig      = regexp.MustCompile(`^([A-Za-z_][\w:<>,\s\*&]*?)\s*\b([A-Za-z_]\w*)\s*\(([^()]*)\)\s*(?:const\s*)?(?:\{.*)?$`)
)

var cppNotFunctions = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "return": true,
	"catch": true, "sizeof": true, "main": true,
}

var cppScalars = map[string]string{
	"int":       "int",
	"long":      "long",
	"long long": "long long",
	"double":    "double",
	"float":     "float",
	"bool":      "bool",
	"char":      "char",
	"string":    "std::string",
}

type cppParam struct {
	typ  string
	name string
}

type cppSignature struct {
	ret    string // canonical type, or "void"
	name   string
	params []cppParam
	method bool
}

// WrapCpp generates a main() that decodes a JSON argument array, calls the first
// Solution method (or the last free function) and prints the result as JSON.
// A void function prints its first argument, which covers in-place algorithms.
func WrapCpp(code string) (string, error) {
	if cppMain.MatchString(code) {
		return code, nil
	}
	sig, err := findCppSignature(code)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("#include <bits/stdc++.h>\nusing namespace std;\n\n")
	b.WriteString(strings.TrimRight(code, "\n"))
	b.WriteString("\n")
	b.WriteString(cppRuntime)

	b.WriteString("\nint main() {\n")
	b.WriteString("    std::string gauntlet_in((std::istreambuf_iterator<char>(std::cin)), std::istreambuf_iterator<char>());\n")
	b.WriteString("    gauntlet::Json gauntlet_args = gauntlet::Parser(gauntlet_in).parse();\n")
	b.WriteString("    if (gauntlet_args.kind != gauntlet::Json::Array) { gauntlet::Json w; w.kind = gauntlet::Json::Array; w.items.push_back(gauntlet_args); gauntlet_args = w; }\n")
	fmt.Fprintf(&b, "    if (gauntlet_args.items.size() < %d) { std::cerr << \"expected %d arguments, got \" << gauntlet_args.items.size() << std::endl; return 2; }\n",
		len(sig.params), len(sig.params))

	args := make([]string, len(sig.params))
	for i, p := range sig.params {
		args[i] = fmt.Sprintf("gauntlet_a%d", i)
		fmt.Fprintf(&b, "    %s %s = gauntlet::Conv<%s>::from(gauntlet_args.items[%d]);\n", p.typ, args[i], p.typ, i)
	}
	call := sig.name + "(" + strings.Join(args, ", ") + ")"
	if sig.method {
		b.WriteString("    Solution gauntlet_s;\n")
		call = "gauntlet_s." + call
	}
	switch {
	case sig.ret != "void":
		fmt.Fprintf(&b, "    %s gauntlet_r = %s;\n", sig.ret, call)
		fmt.Fprintf(&b, "    gauntlet::Conv<%s>::to(std::cout, gauntlet_r);\n", sig.ret)
	case len(sig.params) > 0:
		fmt.Fprintf(&b, "    %s;\n", call)
		fmt.Fprintf(&b, "    gauntlet::Conv<%s>::to(std::cout, gauntlet_a0);\n", sig.params[0].typ)
	default:
		fmt.Fprintf(&b, "    %s;\n", call)
		b.WriteString("    std::cout << \"null\";\n")
	}
	b.WriteString("    std::cout << std::endl;\n    return 0;\n}\n")
	return b.String(), nil
}

func findCppSignature(code string) (*cppSignature, error) {
	lines := strings.Split(code, "\n")
	start, method := 0, false
	if loc := cppSolution.FindStringIndex(code); loc != nil {
		start = strings.Count(code[:loc[1]], "\n") + 1
		method = true
	}

	var found []string
	for i := start; i < len(lines); i++ {
		line := lines[i]
		if !method && (line == "" || line[0] == ' ' || line[0] == '\t') {
			continue
		}
		m := cppSig.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || cppNotFunctions[m[2]] {
			continue
		}
		found = m
		if method {
			break
		}
	}
	if found == nil {
		return nil, ErrNoEntryFunction
	}
	sig, err := parseCppSignature(found[1], found[2], found[3])
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", found[2], err)
	}
	sig.method = method
	return sig, nil
}

func parseCppSignature(ret, name, params string) (*cppSignature, error) {
	sig := &cppSignature{name: name}

	ret = strings.TrimSpace(ret)
	for _, prefix := range []string{"static ", "inline ", "virtual ", "constexpr "} {
		ret = strings.TrimPrefix(ret, prefix)
	}
	if ret == "void" {
		sig.ret = "void"
	} else {
		t, err := canonicalCppType(ret)
		if err != nil {
			return nil, err
		}
		sig.ret = t
	}

	params = strings.TrimSpace(params)
	if params == "" || params == "void" {
		return sig, nil
	}
	for _, raw := range splitTopLevel(params) {
		if i := strings.Index(raw, "="); i >= 0 {
			raw = raw[:i]
		}
		raw = strings.TrimSpace(raw)
		cut := strings.LastIndexAny(raw, " \t*&")
		if cut < 0 {
			return nil, fmt.Errorf("unnamed parameter %q", raw)
		}
		t, err := canonicalCppType(raw[:cut+1])
		if err != nil {
			return nil, err
		}
		sig.params = append(sig.params, cppParam{typ: t, name: strings.TrimSpace(raw[cut+1:])})
	}
	return sig, nil
}

// splitTopLevel splits on commas outside angle brackets.
func splitTopLevel(s string) []string {
	var out []string
	depth, last := 0, 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[last:i])
				last = i + 1
			}
		}
	}
	return append(out, s[last:])
}

// canonicalCppType accepts the parameter types the harness can decode.
func canonicalCppType(t string) (string, error) {
	t = strings.ReplaceAll(t, "std::", "")
	t = strings.ReplaceAll(t, "&", " ")
	t = strings.Join(strings.Fields(t), " ")
	t = strings.TrimPrefix(t, "const ")
	t = strings.TrimSuffix(t, " const")
	t = strings.TrimSpace(t)

	if canonical, ok := cppScalars[t]; ok {
		return canonical, nil
	}
	if strings.HasPrefix(t, "vector") {
		inner := strings.TrimSpace(strings.TrimPrefix(t, "vector"))
		if strings.HasPrefix(inner, "<") && strings.HasSuffix(inner, ">") {
			elem, err := canonicalCppType(inner[1 : len(inner)-1])
			if err != nil {
				return "", err
			}
			return "std::vector<" + elem + ">", nil
		}
	}
	return "", fmt.Errorf("unsupported parameter type %q", t)
}

// cppRuntime is a minimal JSON reader/writer appended after the user's code.
const cppRuntime = `
namespace gauntlet {

struct Json {
    enum Kind { Null, Bool, Number, String, Array, Object };
    Kind kind = Null;
    bool b = false;
    std::string text;
    std::vector<Json> items;
};

struct Parser {
    const std::string& s;
    size_t i = 0;
    explicit Parser(const std::string& src) : s(src) {}

    void ws() { while (i < s.size() && std::isspace((unsigned char)s[i])) i++; }

    Json parse() {
        ws();
        Json j;
        if (i >= s.size()) return j;
        char c = s[i];
        if (c == '[' || c == '{') {
            j.kind = c == '[' ? Json::Array : Json::Object;
            char close = c == '[' ? ']' : '}';
            i++;
            ws();
            if (i < s.size() && s[i] == close) { i++; return j; }
            while (i < s.size()) {
                if (j.kind == Json::Object) { parse(); ws(); i++; }
                j.items.push_back(parse());
                ws();
                if (i < s.size() && s[i] == ',') { i++; continue; }
                i++;
                break;
            }
            return j;
        }
        if (c == '"') { j.kind = Json::String; j.text = str(); return j; }
        if (s.compare(i, 4, "true") == 0) { j.kind = Json::Bool; j.b = true; i += 4; return j; }
        if (s.compare(i, 5, "false") == 0) { j.kind = Json::Bool; i += 5; return j; }
        if (s.compare(i, 4, "null") == 0) { i += 4; return j; }
        j.kind = Json::Number;
        size_t start = i;
        while (i < s.size() && (std::isdigit((unsigned char)s[i]) || std::strchr("+-.eE", s[i]))) i++;
        j.text = s.substr(start, i - start);
        return j;
    }

    std::string str() {
        std::string out;
        i++;
        while (i < s.size() && s[i] != '"') {
            char c = s[i++];
            if (c != '\\') { out += c; continue; }
            char e = s[i++];
            switch (e) {
                case 'n': out += '\n'; break;
                case 't': out += '\t'; break;
                case 'r': out += '\r'; break;
                case 'b': out += '\b'; break;
                case 'f': out += '\f'; break;
                case 'u': {
                    unsigned cp = std::stoul(s.substr(i, 4), nullptr, 16);
                    i += 4;
                    if (cp < 0x80) {
                        out += (char)cp;
                    } else if (cp < 0x800) {
                        out += (char)(0xC0 | (cp >> 6));
                        out += (char)(0x80 | (cp & 0x3F));
                    } else {
                        out += (char)(0xE0 | (cp >> 12));
                        out += (char)(0x80 | ((cp >> 6) & 0x3F));
                        out += (char)(0x80 | (cp & 0x3F));
                    }
                    break;
                }
                default: out += e;
            }
        }
        i++;
        return out;
    }
};

inline void quote(std::ostream& o, const std::string& s) {
    o << '"';
    for (unsigned char c : s) {
        switch (c) {
            case '"': o << "\\\""; break;
            case '\\': o << "\\\\"; break;
            case '\n': o << "\\n"; break;
            case '\t': o << "\\t"; break;
            case '\r': o << "\\r"; break;
            default:
                if (c < 0x20) {
                    char buf[8];
                    std::snprintf(buf, sizeof buf, "\\u%04x", c);
                    o << buf;
                } else {
                    o << c;
                }
        }
    }
    o << '"';
}

template <typename T> struct Conv;

#define GAUNTLET_INTEGRAL(T) \
    template <> struct Conv<T> { \
        static T from(const Json& j) { return j.kind == Json::Bool ? (T)j.b : (T)std::stoll(j.text); } \
        static void to(std::ostream& o, T v) { o << v; } \
    };
GAUNTLET_INTEGRAL(int)
GAUNTLET_INTEGRAL(long)
GAUNTLET_INTEGRAL(long long)

#define GAUNTLET_FLOATING(T) \
    template <> struct Conv<T> { \
        static T from(const Json& j) { return (T)std::stod(j.text); } \
        static void to(std::ostream& o, T v) { \
            if (!std::isfinite((double)v)) { o << "null"; return; } \
            std::ostringstream ss; \
            ss << std::setprecision(std::numeric_limits<T>::digits10) << v; \
            o << ss.str(); \
        } \
    };
GAUNTLET_FLOATING(double)
GAUNTLET_FLOATING(float)

template <> struct Conv<bool> {
    static bool from(const Json& j) { return j.kind == Json::Bool ? j.b : std::stod(j.text) != 0; }
    static void to(std::ostream& o, bool v) { o << (v ? "true" : "false"); }
};

template <> struct Conv<char> {
    static char from(const Json& j) { return j.kind == Json::String ? (j.text.empty() ? '\0' : j.text[0]) : (char)std::stoi(j.text); }
    static void to(std::ostream& o, char v) { quote(o, std::string(1, v)); }
};

template <> struct Conv<std::string> {
    static std::string from(const Json& j) { return j.text; }
    static void to(std::ostream& o, const std::string& v) { quote(o, v); }
};

template <typename T> struct Conv<std::vector<T>> {
    static std::vector<T> from(const Json& j) {
        std::vector<T> out;
        for (const Json& item : j.items) out.push_back(Conv<T>::from(item));
        return out;
    }
    static void to(std::ostream& o, const std::vector<T>& v) {
        o << '[';
        for (size_t k = 0; k < v.size(); k++) {
            if (k) o << ',';
            Conv<T>::to(o, v[k]);
        }
        o << ']';
    }
};

}  // namespace gauntlet
`
