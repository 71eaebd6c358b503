// Package consumer dispatches broker requests to registered actions.
//
// A Definition describes a consumer: the queue it serves, its broker
// settings and its action table. A Group runs the definition with one
// Consumer instance per unit of concurrency.
//
//	def := consumer.NewDefinition("math", consumer.WithQueue("math"))
//	def.Action("incr", func(c *consumer.Context) error {
//	    return c.OK(strconv.Itoa(c.Int("num") + 1))
//	}, consumer.Param("num", "integer", consumer.Required()))
//
//	group, err := consumer.NewGroup(ctx, broker, def)
//	if err != nil {
//	    return err
//	}
//	defer group.Terminate()
//
// Handlers stop by returning the *Halt produced by a status helper such as
// OK or NotFound. Any other returned error, or a panic, answers 500.
package consumer
