package collections

// ExampleDefinitions is written by `facts init` when no definitions file
// exists yet.
const ExampleDefinitions = `# Collection definitions.
#
# Each collection derives one row of facts per matching object. Facts read a
# gjson path from the object's attributes or evaluate an expr-lang
# expression. Rules name other object types whose changes rebuild the
# objects referenced at their follow path.
collections:
  - name: open_tasks
    description: Tasks that are not done yet
    types: [task]
    where: 'status != "done"'
    facts:
      - name: title
        type: text
        path: title
      - name: assignee
        type: ref
        path: assignee
      - name: points
        type: int
        path: estimate.points
      - name: due
        type: date
        path: due
      - name: labels
        type: json
        path: labels
      - name: big
        type: bool
        expr: 'facts.points != nil && facts.points >= 8'
    rules:
      - type: comment
        follow: task
`
